package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIndex(t *testing.T) {
	i, err := parseIndex("3")
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	for _, bad := range []string{"0", "-1", "x", ""} {
		_, err := parseIndex(bad)
		assert.Error(t, err, bad)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
	assert.Equal(t, "héllo w...", truncate("héllo wörld again", 10))
}

func TestReadSource_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,response\n1,ok\n"), 0644))

	text, err := readSource(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "id,response\n1,ok\n", text)

	_, err = readSource(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorContains(t, err, "missing.csv")
}

func TestOpenApp_UsesDBFlag(t *testing.T) {
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "nested", "codebook.db")
	configPath = filepath.Join(dir, "absent.yaml")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("CODEBOOK_CLASSIFIER_API_KEY", "")
	t.Cleanup(func() { dbPath, configPath = "", "" })

	a, err := openApp(context.Background())
	require.NoError(t, err)
	require.NoError(t, a.session.CreateTaxonomy("Survey"))
	a.Close(context.Background())

	a, err = openApp(context.Background())
	require.NoError(t, err)
	defer a.Close(context.Background())
	assert.Equal(t, []string{"Survey"}, a.session.TaxonomyNames())
	assert.FileExists(t, dbPath)
}
