package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputName(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		original string
		image    bool
		ext      string
		want     string
	}{
		{"image gets field prefix", "avatar", "My Photo.JPG", true, ".webp", `^avatar-my-photo-[0-9a-f]{8}\.webp$`},
		{"keeps original extension", "avatar", "me.PNG", true, "", `^avatar-me-[0-9a-f]{8}\.png$`},
		{"non image has no field", "docs", "Q1 Report.pdf", false, "", `^q1-report-[0-9a-f]{8}\.pdf$`},
		{"strips directories", "docs", `..\..\etc/passwd`, false, "", `^passwd-[0-9a-f]{8}$`},
		{"empty base", "docs", ".pdf", false, "", `^file-[0-9a-f]{8}\.pdf$`},
		{"unicode base", "docs", "résumé.txt", false, "", `^resume-[0-9a-f]{8}\.txt$`},
		{"dirty extension", "docs", "a.t$x-t", false, "", `^a-[0-9a-f]{8}\.txt$`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Regexp(t, tt.want, OutputName(tt.field, tt.original, tt.image, tt.ext))
		})
	}
}

func TestOutputName_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		name := OutputName("f", "same.png", true, "")
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}
}
