package mailcore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveSidecarPaths(t *testing.T) {
	cases := []struct {
		name string
		opts ExportOptions
		exp  ExportOptions
	}{
		{
			name: "both derived",
			opts: ExportOptions{TextPath: "/out/report.txt", IncludeJSON: true, IncludeHashes: true},
			exp:  ExportOptions{TextPath: "/out/report.txt", IncludeJSON: true, JSONPath: "/out/report.json", IncludeHashes: true, HashesPath: "/out/report_hashes.csv"},
		},
		{
			name: "explicit paths are kept",
			opts: ExportOptions{TextPath: "/out/report.txt", IncludeJSON: true, JSONPath: "/elsewhere/r.json", IncludeHashes: true, HashesPath: "/elsewhere/h.csv"},
			exp:  ExportOptions{TextPath: "/out/report.txt", IncludeJSON: true, JSONPath: "/elsewhere/r.json", IncludeHashes: true, HashesPath: "/elsewhere/h.csv"},
		},
		{
			name: "disabled sidecars are left alone",
			opts: ExportOptions{TextPath: "/out/report.txt"},
			exp:  ExportOptions{TextPath: "/out/report.txt"},
		},
		{
			name: "no extension",
			opts: ExportOptions{TextPath: "/out/report", IncludeJSON: true, IncludeHashes: true},
			exp:  ExportOptions{TextPath: "/out/report", IncludeJSON: true, JSONPath: "/out/report.json", IncludeHashes: true, HashesPath: "/out/report_hashes.csv"},
		},
		{
			name: "no text path",
			opts: ExportOptions{IncludeJSON: true},
			exp:  ExportOptions{IncludeJSON: true},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.exp, c.opts.DeriveSidecarPaths())
		})
	}
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, ExportOptions{}.Validate(), ErrNoTextPath)
	assert.ErrorIs(t, ExportOptions{TextPath: " "}.Validate(), ErrNoTextPath)
	assert.NoError(t, ExportOptions{TextPath: "x.txt"}.Validate())
}

func TestDefaultExportPath(t *testing.T) {
	now := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	dir := filepath.Join("home", "me", "Desktop")

	assert.Equal(t, filepath.Join(dir, "Archive_20240102_150405.txt"), DefaultExportPath("Archive", dir, now))
	assert.Equal(t, filepath.Join(dir, "export_20240102_150405.txt"), DefaultExportPath("  ", dir, now))
	assert.Equal(t, filepath.Join(dir, "C__mail_a.pst_20240102_150405.txt"), DefaultExportPath(`C:\mail\a.pst`, dir, now))
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "attachment", SanitizeFileName(""))
	assert.Equal(t, "report.pdf", SanitizeFileName("report.pdf"))
	assert.Equal(t, "a_b_c_d_.txt", SanitizeFileName("a/b\\c:d?.txt"))
	assert.Equal(t, "tab_here", SanitizeFileName("tab\there"))
}
