package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

// identRe matches caller-supplied client, room, and channel identifiers.
var identRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidIdent reports whether id is a legal caller-supplied identifier.
func ValidIdent(id string) bool {
	return identRe.MatchString(id)
}

// ValidateIdent returns a descriptive error for an illegal identifier.
func ValidateIdent(field, id string) error {
	if !ValidIdent(id) {
		return fmt.Errorf("%s must match [A-Za-z0-9_-]{1,64}", field)
	}
	return nil
}

// filenameUnsafe matches every byte outside the safe filename charset.
var filenameUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFilename reduces a caller-supplied filename to a safe charset and
// strips path separators. Never returns an empty string.
func SanitizeFilename(name string) string {
	// Keep only the final path element, whichever separator was used.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = filenameUnsafe.ReplaceAllString(name, "_")
	name = strings.Trim(name, ".")
	if len(name) > 255 {
		name = name[:255]
	}
	if name == "" {
		return "file"
	}
	return name
}

// ValidateText enforces the room text limit (UTF-8 characters, not bytes).
func ValidateText(text string) error {
	if text == "" {
		return fmt.Errorf("text must not be empty")
	}
	if len([]rune(text)) > MaxTextChars {
		return fmt.Errorf("text exceeds %d characters", MaxTextChars)
	}
	return nil
}
