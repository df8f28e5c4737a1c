package mailcore

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

const defaultEncoding = "utf-8"

// ExportOptions are the choices made for a bundle export.
type ExportOptions struct {
	TextPath           string
	IncludeAttachments bool
	IncludeJSON        bool
	JSONPath           string
	IncludeHashes      bool
	HashesPath         string
	SourceLabel        string
	Encoding           string
}

var ErrNoTextPath = errors.New("a text output file is required")

func (o ExportOptions) Validate() error {
	if strings.TrimSpace(o.TextPath) == "" {
		return ErrNoTextPath
	}
	return nil
}

// DeriveSidecarPaths fills in the JSON and hash paths of enabled sidecars that have none,
// next to the text file: report.txt gives report.json and report_hashes.csv.
func (o ExportOptions) DeriveSidecarPaths() ExportOptions {
	if strings.TrimSpace(o.TextPath) == "" {
		return o
	}
	base := strings.TrimSuffix(o.TextPath, filepath.Ext(o.TextPath))
	if o.IncludeJSON && o.JSONPath == "" {
		o.JSONPath = base + ".json"
	}
	if o.IncludeHashes && o.HashesPath == "" {
		o.HashesPath = base + "_hashes.csv"
	}
	return o
}

// normalized drops sidecars that are enabled without a path and fills in the encoding.
func (o ExportOptions) normalized() ExportOptions {
	if strings.TrimSpace(o.JSONPath) == "" {
		o.IncludeJSON = false
	}
	if !o.IncludeJSON {
		o.JSONPath = ""
	}
	if strings.TrimSpace(o.HashesPath) == "" {
		o.IncludeHashes = false
	}
	if !o.IncludeHashes {
		o.HashesPath = ""
	}
	if o.Encoding == "" {
		o.Encoding = defaultEncoding
	}
	return o
}

// DefaultExportPath suggests a text export path in dir named after label and the time,
// like Inbox_20240102_150405.txt.
func DefaultExportPath(label, dir string, now time.Time) string {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "export"
	}
	return filepath.Join(dir, SanitizeFileName(label)+"_"+now.Format("20060102_150405")+".txt")
}

// SanitizeFileName replaces characters that are not allowed in file names on any
// supported platform. An empty name becomes "attachment".
func SanitizeFileName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "attachment"
	}
	return strings.Map(func(r rune) rune {
		if r < 32 || strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)
}
