package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/davidoram/httpsink/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenJournal(t *testing.T) {
	ctx := context.Background()
	db, err := openJournal(ctx, filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer db.Close()

	n, err := core.CountFailures(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunMissingConfigFile(t *testing.T) {
	err := run(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestRunInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "httpsink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  url: \"not a url\"\n"), 0o600))

	err := run(context.Background(), path)
	assert.ErrorContains(t, err, "create config")
}
