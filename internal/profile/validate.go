package profile

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is wrapped by ValidateName failures.
var ErrInvalidName = errors.New("invalid profile name")

// A profile name becomes a directory under profiles/ and appears in log
// lines, so it is kept to a short lowercase slug with no leading or
// trailing separator.
var nameRegexp = regexp.MustCompile(`^[a-z0-9]([a-z0-9_-]{0,62}[a-z0-9])?$`)

// ValidateName checks that name is a usable profile name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w %q: use 1-64 lowercase letters, digits, '-' or '_', starting and ending with a letter or digit",
			ErrInvalidName, name)
	}
	return nil
}
