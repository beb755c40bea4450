package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgmining/fraudeagle/internal/analysis"
	"github.com/rgmining/fraudeagle/internal/config"
	"github.com/rgmining/fraudeagle/internal/store"
)

const sampleCSV = `reviewer,product,rating
alice,p1,1
alice,p2,0.9
alice,p3,1
bob,p1,0.8
bob,p2,1
carol,p1,0
carol,p2,0.1
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "reviews.csv")
	require.NoError(t, os.WriteFile(data, []byte(sampleCSV), 0o600))

	cfg := config.Defaults()
	cfg.LogLevel = "error"
	cfg.Dataset.Path = data
	cfg.Store.DSN = filepath.Join(dir, "results.db")
	path := filepath.Join(dir, "fraudeagle.yaml")
	require.NoError(t, cfg.Save(path))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRoot()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "fraudeagle dev"))
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fe.yaml")
	_, err := execute(t, "init", "--config", path, "--dataset", "data.jsonl")
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "data.jsonl", cfg.Dataset.Path)
	assert.NoError(t, cfg.Validate())

	_, err = execute(t, "init", "--config", path)
	assert.Error(t, err, "existing file needs --force")
	_, err = execute(t, "init", "--config", path, "--force")
	assert.NoError(t, err)
}

func TestAnalyzeRunsShow(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := execute(t, "analyze", "--config", cfgPath, "-o", "json", "--top", "2")
	require.NoError(t, err)
	var res analysis.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Reviewers, 2)
	assert.Len(t, res.Products, 3)

	out, err = execute(t, "runs", "--config", cfgPath, "-o", "json")
	require.NoError(t, err)
	var runs []store.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, res.ID, runs[0].ID)
	assert.Equal(t, 3, runs[0].Reviewers)

	out, err = execute(t, "show", res.ID, "--config", cfgPath, "-o", "table", "--products")
	require.NoError(t, err)
	assert.Contains(t, out, "run "+res.ID)
	assert.Contains(t, out, "REVIEWER")
	assert.Contains(t, out, "PRODUCT")

	_, err = execute(t, "show", "missing", "--config", cfgPath)
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestAnalyzeNoStore(t *testing.T) {
	cfgPath := writeTestConfig(t)
	_, err := execute(t, "analyze", "--config", cfgPath, "-o", "json", "--no-store", "--workers", "4")
	require.NoError(t, err)

	out, err := execute(t, "runs", "--config", cfgPath, "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestAnalyzeRejectsBadFlags(t *testing.T) {
	cfgPath := writeTestConfig(t)
	_, err := execute(t, "analyze", "--config", cfgPath, "--epsilon", "0.7")
	assert.Error(t, err)
	_, err = execute(t, "analyze", "--config", cfgPath, "-o", "xml")
	assert.Error(t, err)
	_, err = execute(t, "analyze", filepath.Join(t.TempDir(), "missing.csv"), "--config", cfgPath)
	assert.Error(t, err)
}
