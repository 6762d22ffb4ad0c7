package realtime

import (
	"fmt"
	"strings"
)

const invalidSegmentCharacters = ".#$[]"

// SplitPath validates a slash separated path and returns its segments.
func SplitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segments := strings.Split(trimmed, "/")
	for _, segment := range segments {
		if segment == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
		if strings.ContainsAny(segment, invalidSegmentCharacters) {
			return nil, fmt.Errorf("%w: segment %q contains one of %q", ErrInvalidPath, segment, invalidSegmentCharacters)
		}
	}
	return segments, nil
}

// JoinPath joins segments with slashes.
func JoinPath(segments ...string) string {
	return strings.Join(segments, "/")
}

// related reports whether a write at one path is visible from the other.
func related(a, b []string) bool {
	size := min(len(a), len(b))
	for index := 0; index < size; index++ {
		if a[index] != b[index] {
			return false
		}
	}
	return true
}
