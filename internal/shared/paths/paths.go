package paths

import (
	"regexp"
	"strings"

	"collab-table/internal/shared/errors"
)

// The store is addressed with slash-separated paths rooted at the shared
// tables tree: shared-tables/{SHARE_ID}/{SUBTREE...}

// Root is the top-level node under which every collaboration session lives.
const Root = "shared-tables"

// Info represents a parsed store path
type Info struct {
	ShareID  string
	Subtree  string
	Segments []string
}

var (
	sharePathRegex = regexp.MustCompile(`^shared-tables/([^/]+)(?:/(.*))?$`)

	// Segment keys may carry user labels, which allow spaces but no slashes
	// or path-hostile control characters.
	validKeyPattern = regexp.MustCompile(`^[^/.#$\[\]]+$`)
)

// Join builds a slash-separated path from the given segments, skipping empties.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Split parses a path into its non-empty segments.
func Split(path string) []string {
	if path == "" {
		return []string{}
	}
	segments := strings.Split(path, "/")
	var result []string
	for _, segment := range segments {
		if segment != "" {
			result = append(result, segment)
		}
	}
	return result
}

// Parse parses a complete shared-table store path.
func Parse(path string) (*Info, error) {
	if path == "" {
		return nil, errors.NewValidationError("path cannot be empty")
	}

	path = strings.Trim(path, "/")

	matches := sharePathRegex.FindStringSubmatch(path)
	if len(matches) != 3 {
		return nil, errors.NewValidationError("invalid store path format").
			WithDetail("expected_format", "shared-tables/{SHARE_ID}/{SUBTREE}").
			WithDetail("provided_path", path)
	}

	shareID := matches[1]
	subtree := matches[2]

	if !IsValidKey(shareID) {
		return nil, errors.NewValidationError("invalid share identifier").
			WithDetail("share_id", shareID)
	}

	segments := Split(subtree)
	for i, segment := range segments {
		if !IsValidKey(segment) {
			return nil, errors.NewValidationError("invalid path segment").
				WithDetail("segment", segment).
				WithDetail("position", i)
		}
	}

	return &Info{
		ShareID:  shareID,
		Subtree:  subtree,
		Segments: segments,
	}, nil
}

// ShareRoot returns the path of one collaboration session's root node.
func ShareRoot(shareID string) string {
	return Join(Root, shareID)
}

// IsValidKey reports whether a segment is usable as a store child key.
func IsValidKey(key string) bool {
	return validKeyPattern.MatchString(key)
}

// ParentOf returns the parent path and the final segment of a path.
// The parent of a single-segment path is the empty string.
func ParentOf(path string) (parent, key string) {
	segments := Split(path)
	if len(segments) == 0 {
		return "", ""
	}
	return strings.Join(segments[:len(segments)-1], "/"), segments[len(segments)-1]
}

// IsAncestor reports whether ancestor is a prefix (by whole segments) of path.
func IsAncestor(ancestor, path string) bool {
	if ancestor == "" {
		return true
	}
	return path == ancestor || strings.HasPrefix(path, ancestor+"/")
}
