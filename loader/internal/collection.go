package internal

import (
	"path"
	"strings"

	"ragingest/types"
)

const (
	RuleFixed     = "fixed"
	RuleTopFolder = "top-folder"
)

// CollectionRule maps a slash-separated path relative to the document root to
// a collection name.
type CollectionRule func(rel string) string

// NewCollectionRule returns the rule named by name. fallback is the
// collection given on the command line.
func NewCollectionRule(name, fallback string) (CollectionRule, error) {
	switch name {
	case "", RuleFixed:
		return func(string) string { return fallback }, nil
	case RuleTopFolder:
		return func(rel string) string {
			if top := TopFolder(rel); top != "" {
				return top
			}
			return fallback
		}, nil
	default:
		return nil, types.Errorf(types.KindConfigurationError, "collection rule", "unknown rule %q", name)
	}
}

// TopFolder returns the first path segment of rel, or "" for files at the
// root.
func TopFolder(rel string) string {
	rel = strings.TrimPrefix(path.Clean(rel), "./")
	top, _, found := strings.Cut(rel, "/")
	if !found {
		return ""
	}
	return top
}

// Metadata is attached to every chunk of the document at rel.
func Metadata(rel string) map[string]string {
	meta := map[string]string{
		"source": path.Base(rel),
		"path":   rel,
	}
	if top := TopFolder(rel); top != "" {
		meta["product"] = top
	}
	return meta
}
