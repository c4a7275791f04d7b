package pkginfo

import (
	"regexp"
	"strings"
)

// versionPattern matches a version-shaped run of digits with at least two
// dots (or letter separators a/b/d/v as seen in app bundle names).
var versionPattern = regexp.MustCompile(`[0-9]+(\.[0-9]+)((\.|a|b|d|v)[0-9]+)+`)

// trailingSeparators matches separator characters left dangling at the end
// of a name once the version is cut off.
var trailingSeparators = regexp.MustCompile(`[ v._-]+$`)

// NameAndVersion splits a filename-derived string into a name and a version.
// It first tries "--" then "-" as a separator, accepting the split only when
// the segment after the separator starts with a digit. If neither applies
// the whole string is the name.
func NameAndVersion(s string) (name, version string) {
	for _, delim := range []string{"--", "-"} {
		if !strings.Contains(s, delim) {
			continue
		}
		idx := strings.LastIndex(s, delim)
		candidate := s[idx+len(delim):]
		if candidate != "" && candidate[0] >= '0' && candidate[0] <= '9' {
			return s[:idx], candidate
		}
	}
	return s, ""
}

// NameAndVersionLoose is NameAndVersion with a fallback for arbitrary
// filenames, as seen when importing: when no hyphen split qualifies, it
// looks for a version-shaped pattern anywhere in the string, takes
// everything from there as the version, and trims dangling separators off
// the name.
func NameAndVersionLoose(s string) (name, version string) {
	name, version = NameAndVersion(s)
	if version != "" {
		return name, version
	}
	loc := versionPattern.FindStringIndex(s)
	if loc == nil {
		return s, ""
	}
	version = s[loc[0]:]
	name = trailingSeparators.ReplaceAllString(s[:loc[0]], "")
	return name, version
}
