package pathpolicy

import "strings"

// DefaultSchemes is the static scheme table: the intents each stream
// scheme may serve.
func DefaultSchemes() map[string]Intent {
	return map[string]Intent{
		"http":   Read,
		"https":  Read,
		"ftp":    Read | Write | Append,
		"ftps":   Read | Write | Append,
		"php":    Read | Write | Append | SimultaneousRW,
		"zlib":   Read | Write | Append,
		"bzip2":  Read | Write | Append,
		"data":   Read,
		"phar":   Read | Write | SimultaneousRW,
		"ssh2":   Read | Write | SimultaneousRW,
		"rar":    Read,
		"ogg":    Read | Write | Append,
		"expect": Read | Write | Append,
	}
}

// Capabilities are the primitives a host stream handler implements.
type Capabilities struct {
	Rename  bool
	Unlink  bool
	OpenDir bool
}

// Wrappers reports which scheme handlers the host has registered.
type Wrappers interface {
	Lookup(scheme string) (Capabilities, bool)
}

// StaticWrappers is a fixed wrapper table keyed by lower-case scheme.
type StaticWrappers map[string]Capabilities

func (w StaticWrappers) Lookup(scheme string) (Capabilities, bool) {
	c, ok := w[strings.ToLower(scheme)]
	return c, ok
}

// DefaultWrappers mirrors the handlers a stock interpreter registers.
func DefaultWrappers() StaticWrappers {
	return StaticWrappers{
		"file":          {Rename: true, Unlink: true, OpenDir: true},
		"http":          {},
		"https":         {},
		"ftp":           {Rename: true, Unlink: true, OpenDir: true},
		"ftps":          {Rename: true, Unlink: true, OpenDir: true},
		"php":           {},
		"data":          {},
		"glob":          {OpenDir: true},
		"phar":          {Rename: true, Unlink: true, OpenDir: true},
		"zlib":          {},
		"compress.zlib": {},
	}
}

// schemeOf returns the lower-case scheme of a "scheme://" or "data:" path.
func schemeOf(path string) (string, bool) {
	n := 0
	for n < len(path) && isSchemeChar(path[n]) {
		n++
	}
	if n == 0 {
		return "", false
	}
	if strings.HasPrefix(path[n:], "://") {
		return strings.ToLower(path[:n]), true
	}
	if n == 4 && n < len(path) && path[n] == ':' && strings.EqualFold(path[:n], "data") {
		return "data", true
	}
	return "", false
}

func isSchemeChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '+' || c == '-' || c == '.':
		return true
	}
	return false
}
