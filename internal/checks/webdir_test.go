package checks

import (
	"context"
	"testing"

	"github.com/dagbolade/rasp-agent/internal/audit"
	"github.com/dagbolade/rasp-agent/internal/check"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestWebdirScanAtInit(t *testing.T) {
	f := newFixture(t, "", check.ActionIgnore)
	require.NoError(t, f.fs.MkdirAll("/var/www/html/.git/objects", 0755))
	require.NoError(t, afero.WriteFile(f.fs, "/var/www/html/.git/config", []byte("x"), 0644))
	require.NoError(t, afero.WriteFile(f.fs, "/var/www/html/backup.sql", []byte("x"), 0644))
	require.NoError(t, afero.WriteFile(f.fs, "/var/www/html/uploads/site.tar.gz", []byte("x"), 0644))
	f.cfg.Webdir.Root = "/var/www/html"
	f.cfg.Webdir.Schedule = ""

	require.NoError(t, f.reg.Init(context.Background()))
	defer f.webdir.Stop()

	alarms := f.sink.all()
	require.Len(t, alarms, 1)
	a := alarms[0]
	assert.Equal(t, audit.KindPolicy, a.Kind)
	assert.Equal(t, SensitiveFilesPolicy, a.PolicyID)
	assert.Equal(t, "policy", a.CheckType)
	assert.Equal(t, "Sensitive files found in webroot path:/var/www/html", a.Message)
	assert.Equal(t, "/var/www/html", gjson.GetBytes(a.Params, "webroot").String())

	var files []string
	for _, r := range gjson.GetBytes(a.Params, "sensitive_files").Array() {
		files = append(files, r.String())
	}
	assert.ElementsMatch(t, []string{
		"/var/www/html/.git",
		"/var/www/html/backup.sql",
		"/var/www/html/uploads/site.tar.gz",
	}, files)
}

func TestWebdirCleanRootIsQuiet(t *testing.T) {
	f := newFixture(t, "", check.ActionIgnore)
	f.cfg.Webdir.Root = "/var/www/html"

	found, err := f.webdir.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Empty(t, f.sink.all())
}

func TestWebdirScheduleStarts(t *testing.T) {
	f := newFixture(t, "", check.ActionIgnore)
	f.cfg.Webdir.Root = "/var/www/html"
	f.cfg.Webdir.Schedule = "@every 1h"

	require.NoError(t, f.webdir.Init(context.Background()))
	f.webdir.mu.Lock()
	running := f.webdir.cron != nil
	f.webdir.mu.Unlock()
	assert.True(t, running)

	f.webdir.Stop()
	assert.Nil(t, f.webdir.cron)
}

func TestWebdirNoRoot(t *testing.T) {
	f := newFixture(t, "", check.ActionIgnore)

	require.NoError(t, f.webdir.Init(context.Background()))
	assert.Nil(t, f.webdir.cron)
	assert.Empty(t, f.sink.all())
}

func TestMatchesAny(t *testing.T) {
	assert.True(t, matchesAny("db.sql", DefaultSensitivePatterns))
	assert.True(t, matchesAny(".env", DefaultSensitivePatterns))
	assert.True(t, matchesAny("phpinfo.php", DefaultSensitivePatterns))
	assert.False(t, matchesAny("index.php", DefaultSensitivePatterns))
}
