package git

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ccm-sh/ccm/internal/models"
)

// Characters that must never reach a shell-adjacent subprocess argument.
const unsafePathChars = ";&|`$(){}[]<>!"

var branchPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// SafePath resolves p to absolute form and rejects anything carrying
// shell metacharacters. Every path handed to a git subprocess goes
// through here first.
func SafePath(p string) (string, error) {
	if p == "" {
		return "", models.Errorf(models.ErrInvalidArgument, "path must not be empty")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", models.NewAppError(models.ErrInvalidArgument, "invalid path", err)
	}
	if strings.ContainsAny(abs, unsafePathChars) {
		return "", models.Errorf(models.ErrInvalidArgument, "path contains unsafe characters")
	}
	return abs, nil
}

// ValidBranch enforces the allowed branch-name alphabet: no leading dash,
// no parent traversal, nothing outside [A-Za-z0-9._/-].
func ValidBranch(name string) error {
	if name == "" {
		return models.Errorf(models.ErrInvalidArgument, "branch name must not be empty")
	}
	if strings.HasPrefix(name, "-") {
		return models.Errorf(models.ErrInvalidArgument, "branch name must not start with '-'")
	}
	if strings.Contains(name, "..") {
		return models.Errorf(models.ErrInvalidArgument, "branch name must not contain '..'")
	}
	if !branchPattern.MatchString(name) {
		return models.Errorf(models.ErrInvalidArgument, "invalid branch name %q", name)
	}
	return nil
}
