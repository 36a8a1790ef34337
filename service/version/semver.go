package version

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

var releasePattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)$`)

// Normalize strips one leading "v" from tag and validates the result as a
// plain MAJOR.MINOR.PATCH version.
func Normalize(tag string) (string, error) {
	v := strings.TrimPrefix(strings.TrimSpace(tag), "v")
	if !releasePattern.MatchString(v) {
		return "", fmt.Errorf("invalid release version %q", tag)
	}
	return v, nil
}

// IsNewer reports whether latest is a strictly greater version than current.
// Both must be valid MAJOR.MINOR.PATCH versions, with an optional leading "v".
func IsNewer(latest, current string) (bool, error) {
	l, err := Normalize(latest)
	if err != nil {
		return false, err
	}
	c, err := Normalize(current)
	if err != nil {
		return false, err
	}
	return semver.Compare("v"+l, "v"+c) > 0, nil
}
