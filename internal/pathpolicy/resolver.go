// Package pathpolicy decides whether a requested path or stream URL may be
// used for an intended operation, and which normalised path to check.
//
// Resolution has three mutually exclusive branches, first match wins:
// an existing local path (checked against the permitted base directories
// when filtering is on), a scheme-prefixed stream (checked against the
// scheme table and the handler's capabilities), and a local path that does
// not exist yet (only writes and rename targets). Anything else is
// rejected. Rejection is a normal outcome, not an error.
package pathpolicy

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Config is the policy input for path resolution.
type Config struct {
	// Filter enables base directory enforcement. When it is off every
	// request is treated as also intending to write.
	Filter      bool
	OpenBasedir []string
	IncludePath []string
	WorkingDir  string
	// Schemes overrides or extends the static scheme table.
	Schemes map[string]Intent
}

var defaultSchemes = DefaultSchemes()

type Resolver struct {
	fs       afero.Fs
	wrappers Wrappers
	config   func() Config
}

// NewResolver builds a resolver over fs. config is read on every call so
// that configuration reloads take effect immediately.
func NewResolver(fs afero.Fs, wrappers Wrappers, config func() Config) *Resolver {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if wrappers == nil {
		wrappers = DefaultWrappers()
	}
	return &Resolver{fs: fs, wrappers: wrappers, config: config}
}

// Resolve returns the path to check for the given intents, or false when
// the request is not permitted.
func (r *Resolver) Resolve(path string, useIncludePath bool, intents Intent) (string, bool) {
	if path == "" {
		return "", false
	}

	cfg := r.config()
	if !cfg.Filter {
		intents |= Write
	}
	path = stripFileScheme(path)

	if resolved, ok := r.resolveExisting(cfg, path, useIncludePath); ok {
		if cfg.Filter && !r.withinBasedir(cfg.OpenBasedir, resolved) {
			return "", false
		}
		return resolved, true
	}

	if scheme, ok := schemeOf(path); ok {
		return r.resolveScheme(cfg, scheme, path, intents)
	}

	if intents.Has(Write | RenameDest) {
		return r.expand(cfg, path), true
	}
	return "", false
}

func (r *Resolver) resolveExisting(cfg Config, path string, useIncludePath bool) (string, bool) {
	if _, ok := schemeOf(path); ok {
		return "", false
	}

	var candidates []string
	if filepath.IsAbs(path) {
		candidates = append(candidates, path)
	} else {
		if useIncludePath && !isExplicitRelative(path) {
			for _, dir := range cfg.IncludePath {
				candidates = append(candidates, filepath.Join(dir, path))
			}
		}
		candidates = append(candidates, filepath.Join(workingDir(cfg), path))
	}

	for _, candidate := range candidates {
		if real, ok := r.realpath(candidate); ok {
			return real, true
		}
	}
	return "", false
}

func (r *Resolver) resolveScheme(cfg Config, scheme, path string, intents Intent) (string, bool) {
	caps, registered := r.wrappers.Lookup(scheme)
	if !registered {
		return "", false
	}

	allowed, known := lookupScheme(cfg, scheme)
	if !known {
		return "", false
	}

	if special := intents & capabilityIntents; special != 0 {
		if special.Has(RenameSrc|RenameDest) && !caps.Rename {
			return "", false
		}
		if special.Has(OpenDir) && !caps.OpenDir {
			return "", false
		}
		if special.Has(Unlink) && !caps.Unlink {
			return "", false
		}
		return path, true
	}

	if intents&allowed == 0 {
		return "", false
	}
	return path, true
}

func (r *Resolver) realpath(path string) (string, bool) {
	clean := filepath.Clean(path)
	exists, err := afero.Exists(r.fs, clean)
	if err != nil || !exists {
		return "", false
	}
	return r.canonical(clean), true
}

// canonical resolves symlinks on the real filesystem. Other filesystems
// have none, and a path that cannot be resolved stays as it is.
func (r *Resolver) canonical(clean string) string {
	if _, ok := r.fs.(*afero.OsFs); ok {
		if real, err := filepath.EvalSymlinks(clean); err == nil {
			return real
		}
	}
	return clean
}

// expand makes path absolute without resolving symlinks.
func (r *Resolver) expand(cfg Config, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workingDir(cfg), path)
}

func lookupScheme(cfg Config, scheme string) (Intent, bool) {
	if allowed, ok := cfg.Schemes[scheme]; ok {
		return allowed, true
	}
	allowed, ok := defaultSchemes[scheme]
	return allowed, ok
}

// withinBasedir compares canonical paths: a base directory reached through
// a symlink matches the files resolved beneath it.
func (r *Resolver) withinBasedir(bases []string, path string) bool {
	if len(bases) == 0 {
		return true
	}
	for _, base := range bases {
		if base == "" {
			continue
		}
		rel, err := filepath.Rel(r.canonical(filepath.Clean(base)), path)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func workingDir(cfg Config) string {
	if cfg.WorkingDir != "" {
		return cfg.WorkingDir
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return string(filepath.Separator)
}

func stripFileScheme(path string) string {
	if len(path) >= 7 && strings.EqualFold(path[:7], "file://") {
		return path[7:]
	}
	return path
}

func isExplicitRelative(path string) bool {
	return strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../")
}
