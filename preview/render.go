package preview

import (
	"html/template"
	"io"
	"strings"

	"github.com/guseggert/mailview/mailcore"
)

var messageTemplate = template.Must(template.New("message").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Msg.Subject}}</title></head>
<body>
<table>
<tr><th>From</th><td>{{.Msg.Sender}}</td></tr>
<tr><th>To</th><td>{{join .Msg.To ", "}}</td></tr>
{{- if .Msg.CC}}
<tr><th>Cc</th><td>{{join .Msg.CC ", "}}</td></tr>
{{- end}}
<tr><th>Sent</th><td>{{.Sent}}</td></tr>
<tr><th>Subject</th><td>{{.Msg.Subject}}</td></tr>
</table>
{{- if .Msg.Attachments}}
<ul class="attachments">
{{- range $a := .Msg.Attachments}}
<li>{{$a.Filename}}{{with $a.Size}} ({{.}} bytes){{end}}</li>
{{- end}}
</ul>
{{- end}}
{{- if .Msg.BodyHTML}}
<iframe sandbox srcdoc="{{.Msg.BodyHTML}}" style="width:100%;height:80vh;border:0"></iframe>
{{- else}}
<pre>{{.Msg.BodyText}}</pre>
{{- end}}
</body>
</html>
`))

type messageView struct {
	Msg  *mailcore.Message
	Sent string
}

// renderMessage writes an HTML preview of msg. HTML bodies are shown in a sandboxed frame.
func renderMessage(w io.Writer, msg *mailcore.Message) error {
	sent := msg.SentAt
	if t, ok := msg.SentTime(); ok {
		sent = t.Format("Mon, 02 Jan 2006 15:04:05 -0700")
	}
	return messageTemplate.Execute(w, messageView{Msg: msg, Sent: sent})
}
