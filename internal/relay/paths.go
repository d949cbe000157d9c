package relay

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// PathValidationError rejects a request before any remote call is made.
// It is client-fixable and never retried.
type PathValidationError struct {
	Path   string
	Reason string
}

func (e *PathValidationError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// IsPathValidationError reports whether err is (or wraps) a PathValidationError.
func IsPathValidationError(err error) bool {
	var pe *PathValidationError
	return errors.As(err, &pe)
}

// resolveWithinRoot rebases p onto root and rejects anything that escapes
// it. Relative paths join under the root; absolute paths must already sit
// inside it.
func resolveWithinRoot(root, p string) (string, error) {
	if p == "" {
		return "", &PathValidationError{Path: p, Reason: "empty path"}
	}
	root = path.Clean(root)

	var resolved string
	if path.IsAbs(p) {
		resolved = path.Clean(p)
	} else {
		resolved = path.Join(root, p)
	}

	if resolved != root && !strings.HasPrefix(resolved, root+"/") {
		return "", &PathValidationError{Path: p, Reason: "escapes remote root " + root}
	}
	return resolved, nil
}
