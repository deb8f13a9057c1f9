package vault

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizeName reduces an untrusted file name to a safe single path
// component. Directory components are discarded, the name is folded to
// ASCII (NFKD, dropping what has no ASCII form), whitespace runs become
// "_", characters outside [A-Za-z0-9._-] are removed, and leading or
// trailing "." and "_" are trimmed. Names longer than maxNameBytes are cut
// down, keeping the extension. An empty result is a validation error.
func SanitizeName(raw string) (string, error) {
	name := raw
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder

	pendingSpace := false

	for _, r := range norm.NFKD.String(name) {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true

			continue
		case r > unicode.MaxASCII || !allowedRune(r):
			continue
		}

		if pendingSpace && b.Len() > 0 {
			b.WriteByte('_')
		}

		pendingSpace = false

		b.WriteRune(r)
	}

	clean := strings.Trim(b.String(), "._")
	if clean == "" {
		return "", opErr("sanitize", raw, ErrValidation, nil)
	}

	return capName(clean), nil
}

// maxNameBytes is the common NAME_MAX of Linux and macOS filesystems.
const maxNameBytes = 255

// capName shortens name to maxNameBytes. The stem is cut and the extension
// kept when that leaves a non-empty stem. name is ASCII by now, so byte
// slicing cannot split a rune.
func capName(name string) string {
	if len(name) <= maxNameBytes {
		return name
	}

	ext := ""
	if i := strings.LastIndexByte(name, '.'); i > 0 && len(name)-i < maxNameBytes {
		ext = name[i:]
	}

	stem := strings.TrimRight(name[:maxNameBytes-len(ext)], "._")
	if stem == "" {
		return strings.TrimRight(name[:maxNameBytes], "._")
	}

	return stem + ext
}

func allowedRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	default:
		return false
	}
}
