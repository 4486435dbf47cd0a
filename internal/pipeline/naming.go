package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// suffixLen is the length of the random part of output names.
const suffixLen = 8

// OutputName builds the stored name of a file:
// {field-if-image}-{slug of original base}-{random}{ext}.
// ext includes the dot and may be empty, in which case the original
// extension is kept.
func OutputName(field, original string, image bool, ext string) string {
	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(original, `\`, "/")))
	origExt := filepath.Ext(base)
	base = strings.TrimSuffix(base, origExt)

	if ext == "" {
		ext = cleanExt(origExt)
	}

	name := slug.Make(base)
	if name == "" {
		name = "file"
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLen]

	parts := make([]string, 0, 3)
	if image {
		if f := slug.Make(field); f != "" {
			parts = append(parts, f)
		}
	}
	parts = append(parts, name, suffix)
	return strings.Join(parts, "-") + ext
}

// cleanExt lowercases ext and drops anything that is not a letter or digit.
func cleanExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	var b strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "." + b.String()
}
