package store

import (
	"fmt"
	"strings"
)

// Join builds a path from segments, dropping empty ones and stray slashes.
func Join(parts ...string) string {
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		segs = append(segs, Split(p)...)
	}
	return strings.Join(segs, "/")
}

func Split(path string) []string {
	raw := strings.Split(path, "/")
	segs := raw[:0]
	for _, s := range raw {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// Base returns the last segment of path.
func Base(path string) string {
	segs := Split(path)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// IsPrefix reports whether parent equals child or is one of its ancestors.
func IsPrefix(parent, child string) bool {
	p, c := Split(parent), Split(child)
	if len(p) > len(c) {
		return false
	}
	for i := range p {
		if p[i] != c[i] {
			return false
		}
	}
	return true
}

// Related reports whether a change at one path can affect the other.
func Related(a, b string) bool {
	return IsPrefix(a, b) || IsPrefix(b, a)
}

// Validate rejects empty paths and segments that no backend can carry.
func Validate(path string) error {
	segs := Split(path)
	if len(segs) == 0 {
		return fmt.Errorf("invalid path %q: empty", path)
	}
	for _, s := range segs {
		if strings.ContainsAny(s, "#+$[].\x00") {
			return fmt.Errorf("invalid path %q: segment %q has reserved characters", path, s)
		}
	}
	return nil
}
