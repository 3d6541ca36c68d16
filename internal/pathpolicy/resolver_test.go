package pathpolicy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, cfg Config) *Resolver {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/var/www/html", 0755))
	require.NoError(t, afero.WriteFile(fs, "/var/www/html/index.php", []byte("<?php"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/etc/passwd", []byte("root:x:0:0"), 0644))
	require.NoError(t, fs.MkdirAll("/usr/share/php", 0755))
	require.NoError(t, afero.WriteFile(fs, "/usr/share/php/lib.php", []byte("<?php"), 0644))

	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "/var/www/html"
	}
	return NewResolver(fs, DefaultWrappers(), func() Config { return cfg })
}

func TestResolveSchemeTable(t *testing.T) {
	r := newTestResolver(t, Config{Filter: true})

	tests := []struct {
		name    string
		path    string
		intents Intent
		want    bool
	}{
		{"http read", "http://x", Read, true},
		{"http write", "http://x", Write, false},
		{"https upper-case scheme", "HTTPS://example.com/a", Read, true},
		{"ftp append", "ftp://host/file", Append, true},
		{"php simultaneous", "php://memory", SimultaneousRW, true},
		{"data read", "data:text/plain;base64,SGVsbG8=", Read, true},
		{"phar append", "phar://archive.phar/a", Append, false},
		{"unknown scheme", "gopher://host/", Read, false},
		{"registered but not in table", "glob://*.php", Read, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.path, false, tt.intents)
			assert.Equal(t, tt.want, ok)
			if ok {
				assert.Equal(t, tt.path, got)
			}
		})
	}
}

func TestResolveSchemeCapabilities(t *testing.T) {
	r := newTestResolver(t, Config{Filter: true})

	_, ok := r.Resolve("ftp://host/old", false, RenameSrc)
	assert.True(t, ok, "ftp handler can rename")

	_, ok = r.Resolve("http://host/old", false, Unlink)
	assert.False(t, ok, "http handler cannot unlink")

	_, ok = r.Resolve("phar://a.phar/dir", false, OpenDir)
	assert.True(t, ok)

	_, ok = r.Resolve("php://filter/resource=x", false, OpenDir)
	assert.False(t, ok)
}

func TestResolveSchemeOverride(t *testing.T) {
	r := newTestResolver(t, Config{
		Filter:  true,
		Schemes: map[string]Intent{"http": Read | Write},
	})

	_, ok := r.Resolve("http://x", false, Write)
	assert.True(t, ok)
}

func TestResolveExistingWithinBasedir(t *testing.T) {
	r := newTestResolver(t, Config{Filter: true, OpenBasedir: []string{"/var/www"}})

	got, ok := r.Resolve("/var/www/html/index.php", false, Read)
	require.True(t, ok)
	assert.Equal(t, "/var/www/html/index.php", got)

	got, ok = r.Resolve("index.php", false, Read)
	require.True(t, ok)
	assert.Equal(t, "/var/www/html/index.php", got)

	_, ok = r.Resolve("/etc/passwd", false, Read)
	assert.False(t, ok)

	_, ok = r.Resolve("../../../etc/passwd", false, Read)
	assert.False(t, ok)
}

func TestBasedirThroughSymlink(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real")
	require.NoError(t, os.MkdirAll(target, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "index.php"), []byte("<?php"), 0644))
	link := filepath.Join(root, "www")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	cfg := Config{Filter: true, OpenBasedir: []string{link}, WorkingDir: link}
	r := NewResolver(afero.NewOsFs(), DefaultWrappers(), func() Config { return cfg })

	got, ok := r.Resolve(filepath.Join(link, "index.php"), false, Read)
	require.True(t, ok)
	want, err := filepath.EvalSymlinks(filepath.Join(target, "index.php"))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, ok = r.Resolve("index.php", false, Read)
	assert.True(t, ok)
}

func TestBasedirIsDirectoryBoundary(t *testing.T) {
	r := newTestResolver(t, Config{Filter: true, OpenBasedir: []string{"/var/ww"}})

	_, ok := r.Resolve("/var/www/html/index.php", false, Read)
	assert.False(t, ok)
}

func TestResolveExistingFilterDisabled(t *testing.T) {
	r := newTestResolver(t, Config{Filter: false, OpenBasedir: []string{"/var/www"}})

	got, ok := r.Resolve("/etc/passwd", false, Read)
	require.True(t, ok)
	assert.Equal(t, "/etc/passwd", got)
}

func TestResolveIncludePath(t *testing.T) {
	r := newTestResolver(t, Config{Filter: true, IncludePath: []string{"/usr/share/php"}})

	got, ok := r.Resolve("lib.php", true, Read)
	require.True(t, ok)
	assert.Equal(t, "/usr/share/php/lib.php", got)

	_, ok = r.Resolve("lib.php", false, Read)
	assert.False(t, ok)

	_, ok = r.Resolve("./lib.php", true, Read)
	assert.False(t, ok, "explicit relative paths skip the include path")
}

func TestResolveMissingLocalPath(t *testing.T) {
	r := newTestResolver(t, Config{Filter: true})

	tests := []struct {
		intents Intent
		want    bool
	}{
		{Write, true},
		{RenameDest, true},
		{Read, false},
		{Unlink, false},
		{RenameSrc, false},
		{OpenDir, false},
	}

	for _, tt := range tests {
		t.Run(tt.intents.String(), func(t *testing.T) {
			got, ok := r.Resolve("uploads/../new.txt", false, tt.intents)
			assert.Equal(t, tt.want, ok)
			if ok {
				assert.Equal(t, "/var/www/html/new.txt", got)
			}
		})
	}
}

func TestFilterDisabledImpliesWrite(t *testing.T) {
	r := newTestResolver(t, Config{Filter: false})

	got, ok := r.Resolve("missing.txt", false, Read)
	require.True(t, ok)
	assert.Equal(t, "/var/www/html/missing.txt", got)

	_, ok = r.Resolve("http://x", false, Read)
	assert.True(t, ok)
}

func TestFileSchemeIsLocal(t *testing.T) {
	r := newTestResolver(t, Config{Filter: true, OpenBasedir: []string{"/var/www"}})

	got, ok := r.Resolve("file:///var/www/html/index.php", false, Read)
	require.True(t, ok)
	assert.Equal(t, "/var/www/html/index.php", got)
}

func TestResolveEmptyPath(t *testing.T) {
	r := newTestResolver(t, Config{Filter: false})

	_, ok := r.Resolve("", false, Write)
	assert.False(t, ok)
}

func TestParseIntents(t *testing.T) {
	got, err := ParseIntents("read", "WRITE|append")
	require.NoError(t, err)
	assert.Equal(t, Read|Write|Append, got)
	assert.Equal(t, "read|write|append", got.String())

	_, err = ParseIntents("execute")
	assert.Error(t, err)
}

func TestSchemeOf(t *testing.T) {
	tests := []struct {
		in     string
		scheme string
		ok     bool
	}{
		{"http://a", "http", true},
		{"compress.zlib://f.gz", "compress.zlib", true},
		{"data:,x", "data", true},
		{"/abs/path", "", false},
		{"rel/path", "", false},
		{"data", "", false},
		{"C:\\windows", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			scheme, ok := schemeOf(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.scheme, scheme)
		})
	}
}
