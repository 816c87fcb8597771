// Package diff computes the change set between two manifests. It is
// pure: no filesystem access, no clock, just manifest comparison, so
// the same pair of manifests always yields the same plan.
package diff

import (
	"path"
	"sort"

	"github.com/arthur-debert/confpack/pkg/manifest"
)

// ChangeSet is the plan produced by comparing a deployed manifest
// against an incoming one. Paths within each slice are sorted.
type ChangeSet struct {
	// Created paths exist only in the incoming manifest.
	Created []string

	// Updated paths exist in both but differ in content hash or mode.
	Updated []string

	// Removed paths exist only in the deployed manifest and are not
	// protected by a preserve pattern.
	Removed []string

	// Preserved paths exist only in the deployed manifest but matched
	// a preserve pattern, so they stay untouched.
	Preserved []string

	// Unchanged paths match in both hash and mode.
	Unchanged []string
}

// Empty reports whether applying the change set would do nothing.
// Preserved and unchanged paths involve no I/O.
func (c ChangeSet) Empty() bool {
	return len(c.Created) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Counts returns the created/updated/removed totals.
func (c ChangeSet) Counts() (created, updated, removed int) {
	return len(c.Created), len(c.Updated), len(c.Removed)
}

// Options tunes a comparison.
type Options struct {
	// Preserve patterns protect deployed-only paths from removal.
	// Patterns match the base name or the whole relative path.
	Preserve []string
}

// Compare diffs the deployed manifest (old, may be nil for a fresh
// install) against the incoming one. Equal fingerprints short-circuit
// to an empty plan without touching individual entries.
func Compare(old, incoming *manifest.Manifest, opts Options) ChangeSet {
	var cs ChangeSet

	if old != nil && old.Fingerprint == incoming.Fingerprint {
		for _, entry := range incoming.Files {
			cs.Unchanged = append(cs.Unchanged, entry.Path)
		}
		sort.Strings(cs.Unchanged)
		return cs
	}

	oldByPath := map[string]manifest.FileEntry{}
	if old != nil {
		for _, entry := range old.Files {
			oldByPath[entry.Path] = entry
		}
	}

	for _, entry := range incoming.Files {
		prev, existed := oldByPath[entry.Path]
		switch {
		case !existed:
			cs.Created = append(cs.Created, entry.Path)
		case prev.Hash != entry.Hash || prev.Mode != entry.Mode:
			// A mode-only change still rewrites the file.
			cs.Updated = append(cs.Updated, entry.Path)
		default:
			cs.Unchanged = append(cs.Unchanged, entry.Path)
		}
		delete(oldByPath, entry.Path)
	}

	for p := range oldByPath {
		if preserved(p, opts.Preserve) {
			cs.Preserved = append(cs.Preserved, p)
		} else {
			cs.Removed = append(cs.Removed, p)
		}
	}

	sort.Strings(cs.Created)
	sort.Strings(cs.Updated)
	sort.Strings(cs.Removed)
	sort.Strings(cs.Preserved)
	sort.Strings(cs.Unchanged)
	return cs
}

func preserved(relPath string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, relPath); ok {
			return true
		}
		if ok, _ := path.Match(pattern, path.Base(relPath)); ok {
			return true
		}
		// A directory pattern protects everything beneath it.
		if ok, _ := path.Match(pattern+"/*", relPath); ok {
			return true
		}
	}
	return false
}
