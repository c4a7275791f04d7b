package pkginfo

import (
	"sort"
	"strconv"
	"strings"
)

// Version wraps a version string with a component-wise ordering. The literal
// string is preserved for output; only comparison normalizes.
type Version string

// parseComponents splits a version string on dots. Each component is either
// numeric or a bare string; numeric components compare numerically, string
// components lexicographically, and a numeric component always outranks a
// string one when the two kinds meet.
func parseComponents(v string) []component {
	parts := strings.Split(string(v), ".")
	comps := make([]component, len(parts))
	for i, p := range parts {
		if n, err := strconv.Atoi(p); err == nil {
			comps[i] = component{num: n, numeric: true}
		} else {
			comps[i] = component{str: p}
		}
	}
	return comps
}

type component struct {
	num     int
	str     string
	numeric bool
}

// compare orders two components. A missing component is a numeric zero.
func (c component) compare(other component) int {
	switch {
	case c.numeric && other.numeric:
		switch {
		case c.num < other.num:
			return -1
		case c.num > other.num:
			return 1
		}
		return 0
	case c.numeric:
		return 1
	case other.numeric:
		return -1
	default:
		return strings.Compare(c.str, other.str)
	}
}

// Compare returns -1, 0 or 1 ordering v against other. Missing trailing
// components count as zero, so "1.0" equals "1" and "1.10" beats "1.9".
func (v Version) Compare(other Version) int {
	a := parseComponents(string(v))
	b := parseComponents(string(other))
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	zero := component{numeric: true}
	for i := 0; i < n; i++ {
		av, bv := zero, zero
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if cmp := av.compare(bv); cmp != 0 {
			return cmp
		}
	}
	return 0
}

// Less reports whether v orders before other.
func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

// Equal reports value equality, not string equality.
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

// String returns the literal version string.
func (v Version) String() string { return string(v) }

// CompareVersions orders two version strings.
func CompareVersions(a, b string) int {
	return Version(a).Compare(Version(b))
}

// MaxVersion returns the highest of the given version strings, or "" for an
// empty list.
func MaxVersion(versions []string) string {
	max := ""
	for _, v := range versions {
		if max == "" || CompareVersions(v, max) > 0 {
			max = v
		}
	}
	return max
}

// SortVersionsDescending sorts version strings highest first, in place.
func SortVersionsDescending(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return CompareVersions(versions[i], versions[j]) > 0
	})
}
