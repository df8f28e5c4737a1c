package mailcore

import (
	"time"
)

type Mailbox struct {
	SourcePath  string    `json:"source_path"`
	DisplayName string    `json:"display_name"`
	Folders     []*Folder `json:"folders"`
}

// AllMessages returns the messages of every folder, including subfolders.
func (m *Mailbox) AllMessages() []*Message {
	var msgs []*Message
	for _, f := range m.Folders {
		msgs = append(msgs, f.AllMessages()...)
	}
	return msgs
}

// Label is the name exports are filed under: the display name, else the source path.
func (m *Mailbox) Label() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.SourcePath
}

type Folder struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	Messages   []*Message `json:"messages"`
	Subfolders []*Folder  `json:"subfolders"`
}

// AllMessages returns the folder's messages followed by those of its subfolders, depth first.
func (f *Folder) AllMessages() []*Message {
	msgs := append([]*Message(nil), f.Messages...)
	for _, sub := range f.Subfolders {
		msgs = append(msgs, sub.AllMessages()...)
	}
	return msgs
}

type Message struct {
	ID          string            `json:"id"`
	Source      string            `json:"source"`
	SourcePath  string            `json:"source_path,omitempty"`
	Subject     string            `json:"subject"`
	Sender      string            `json:"sender"`
	To          []string          `json:"to,omitempty"`
	CC          []string          `json:"cc,omitempty"`
	BCC         []string          `json:"bcc,omitempty"`
	SentAt      string            `json:"sent_at,omitempty"`
	BodyText    string            `json:"body_text,omitempty"`
	BodyHTML    string            `json:"body_html,omitempty"`
	BodyParts   []BodyPart        `json:"body_parts,omitempty"`
	Attachments []*Attachment     `json:"attachments,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Hashes      []HashInfo        `json:"hashes,omitempty"`
}

// the backend writes naive timestamps when the source carried no offset
var sentAtLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// SentTime parses SentAt. ok is false if the message has no usable timestamp.
// Timestamps without an offset are taken as UTC.
func (m *Message) SentTime() (t time.Time, ok bool) {
	if m.SentAt == "" {
		return time.Time{}, false
	}
	for _, layout := range sentAtLayouts {
		if parsed, err := time.Parse(layout, m.SentAt); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Size        *int64 `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
	SourcePath  string `json:"source_path,omitempty"`
}

type BodyPart struct {
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	Charset     string `json:"charset,omitempty"`
}

type HashInfo struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}
