// Package langver models target language versions and evaluates the
// version-applicability expressions attached to cache entries.
package langver

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a MAJOR.MINOR language version.
type Version struct {
	Major int
	Minor int
}

// Parse parses "3.7" (or "3.7.4"; the patch component is ignored).
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return Version{}, fmt.Errorf("langver: invalid version %q", s)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return Version{}, fmt.Errorf("langver: invalid major in %q", s)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil || minor < 0 {
		return Version{}, fmt.Errorf("langver: invalid minor in %q", s)
	}
	return Version{Major: major, Minor: minor}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Is3x reports whether v belongs to the 3.x family.
func (v Version) Is3x() bool {
	return v.Major == 3
}

// IsZero reports whether v was never set.
func (v Version) IsZero() bool {
	return v.Major == 0 && v.Minor == 0
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		if v.Major < o.Major {
			return -1
		}
		return 1
	case v.Minor != o.Minor:
		if v.Minor < o.Minor {
			return -1
		}
		return 1
	}
	return 0
}

// Applies evaluates an applicability expression of the form
// check(;check)* where check is >=M.m, <=M.m or ==M.m. Every check must pass.
// An empty expression always applies.
func Applies(expr string, v Version) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	for _, check := range strings.Split(expr, ";") {
		check = strings.TrimSpace(check)
		if len(check) < 3 {
			return false, fmt.Errorf("langver: invalid check %q in %q", check, expr)
		}
		op, rest := check[:2], check[2:]
		want, err := Parse(rest)
		if err != nil {
			return false, fmt.Errorf("langver: invalid check %q in %q: %w", check, expr, err)
		}
		cmp := v.Compare(want)
		var ok bool
		switch op {
		case ">=":
			ok = cmp >= 0
		case "<=":
			ok = cmp <= 0
		case "==":
			ok = cmp == 0
		default:
			return false, fmt.Errorf("langver: unknown operator %q in %q", op, expr)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
