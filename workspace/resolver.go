// Package workspace maps filesystem paths to the chat channel that watches
// them. A resolver holds a set of workspace roots, each bound to one channel,
// and answers lookups by longest matching prefix so a nested workspace wins
// over its ancestor.
package workspace

import (
	"path/filepath"
	"strings"
	"sync"
)

// Resolver maps workspace root paths to channel ids. Safe for concurrent
// use.
type Resolver struct {
	mu    sync.RWMutex
	roots map[string]string // normalized root -> channel id
}

// NewResolver builds a resolver from an initial root-to-channel mapping.
func NewResolver(mapping map[string]string) *Resolver {
	r := &Resolver{roots: make(map[string]string, len(mapping))}
	for root, channel := range mapping {
		r.roots[normalize(root)] = channel
	}
	return r
}

// Register binds a workspace root to a channel, replacing any existing
// binding for the same root.
func (r *Resolver) Register(root, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roots[normalize(root)] = channelID
}

// Resolve returns the channel bound to the deepest workspace root containing
// path. The second return is false when no root matches.
func (r *Resolver) Resolve(path string) (string, bool) {
	p := normalize(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		bestChannel string
		bestLen     = -1
	)
	for root, channel := range r.roots {
		if !contains(root, p) {
			continue
		}
		if len(root) > bestLen {
			bestChannel, bestLen = channel, len(root)
		}
	}
	if bestLen < 0 {
		return "", false
	}
	return bestChannel, true
}

// normalize cleans the path and strips trailing separators so "/a/b/" and
// "/a/b" compare equal.
func normalize(path string) string {
	p := filepath.Clean(strings.TrimSpace(path))
	if len(p) > 1 {
		p = strings.TrimRight(p, string(filepath.Separator))
	}
	return p
}

// contains reports whether path equals root or lies underneath it. Matching
// is on whole path segments, so "/srv/app" does not contain "/srv/appdata".
func contains(root, path string) bool {
	if root == path {
		return true
	}
	if root == string(filepath.Separator) {
		// The bare separator root contains every absolute path.
		return strings.HasPrefix(path, root)
	}
	if !strings.HasPrefix(path, root) {
		return false
	}
	return strings.HasPrefix(path[len(root):], string(filepath.Separator))
}
