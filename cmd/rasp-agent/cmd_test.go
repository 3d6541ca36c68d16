package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dagbolade/rasp-agent/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { cfgFile = "" })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestResolveCommand(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "index.php")
	require.NoError(t, os.WriteFile(file, []byte("<?php"), 0644))
	want, err := filepath.EvalSymlinks(file)
	require.NoError(t, err)

	out, err := execute(t, "resolve", "--config", filepath.Join(dir, "missing.yaml"), file, "--intent", "read")

	require.NoError(t, err)
	assert.Equal(t, want, strings.TrimSpace(out))
}

func TestResolveCommandRejectsUnknownIntent(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "resolve", "--config", filepath.Join(dir, "missing.yaml"), "/etc/passwd", "--intent", "chmod")
	assert.Error(t, err)
}

func TestAuditCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	store, err := audit.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Log(context.Background(), audit.Alarm{
		RequestID: "req-1",
		Kind:      audit.KindAttack,
		CheckType: "sql",
		Action:    "block",
		Message:   "union based injection",
	}))
	require.NoError(t, store.Close())

	out, err := execute(t, "audit", "--db", dbPath, "--request-id", "req-1")

	require.NoError(t, err)
	assert.Contains(t, out, "req-1")
	assert.Contains(t, out, "union based injection")
}

func TestConfigPathFromEnv(t *testing.T) {
	t.Setenv("RASP_CONFIG", "/etc/rasp/agent.yaml")
	assert.Equal(t, "/etc/rasp/agent.yaml", configPath())

	cfgFile = "override.yaml"
	defer func() { cfgFile = "" }()
	assert.Equal(t, "override.yaml", configPath())
}
