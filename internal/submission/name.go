package submission

import (
	"regexp"
	"strings"

	apperrors "github.com/tablearena/tablearena/internal/pkg/errors"
)

// MaxNameLength is the longest accepted participant name, in characters.
const MaxNameLength = 64

// Participant names double as artifact file names: no separators, no leading
// dot, no control characters.
var namePattern = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N} _.\-]{0,63}$`)

// CleanName trims name and checks it is usable as a participant name.
func CleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.RejectedError("name", "participant name is required", nil)
	}
	if !namePattern.MatchString(name) {
		return "", apperrors.RejectedError("name",
			"participant name must be 1-64 letters, digits, spaces, '_', '.' or '-' and start with a letter or digit", nil)
	}
	return name, nil
}
