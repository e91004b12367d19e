// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newskylabs/kkrdata/internal/download"
	"github.com/newskylabs/kkrdata/pkg/datacache"
)

// isolate points every config and credential lookup at temp dirs and returns
// the data directory to pass as --data-dir.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("KAGGLE_CONFIG_DIR", filepath.Join(home, "kaggle"))
	for _, k := range []string{"KAGGLE_USERNAME", "KAGGLE_KEY", "KKRDATA_DATA_DIR", "KKRDATA_FONT_URL",
		"KKRDATA_KAGGLE_ENDPOINT", "KKRDATA_KAGGLE_USERNAME", "KKRDATA_KAGGLE_KEY", "KKRDATA_COMPETITION"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	return filepath.Join(home, "data")
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd("1.2.3", &stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func fontServer(t *testing.T) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("NotoSansCJKjp-Regular.otf")
	require.NoError(t, err)
	w.Write([]byte("OTTO"))
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	t.Setenv("KKRDATA_FONT_URL", srv.URL+"/font.zip")
	return srv
}

func TestVersion(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", out)

	out, _, err = run(t, "version", "--json")
	require.NoError(t, err)
	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "1.2.3", info.Version)
}

func TestInvalidLogLevel(t *testing.T) {
	isolate(t)
	_, _, err := run(t, "version", "--log-level", "chatty")
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	data := isolate(t)

	out, _, err := run(t, "list", "--json", "--data-dir", data)
	require.NoError(t, err)

	var sts []datacache.ResourceStatus
	require.NoError(t, json.Unmarshal([]byte(out), &sts))
	require.Len(t, sts, 6)
	for _, st := range sts {
		assert.False(t, st.Cached, st.Name)
		assert.True(t, strings.HasPrefix(st.Path, filepath.Join(data, datacache.DatasetName)), st.Path)
	}

	out, _, err = run(t, "list", "--data-dir", data)
	require.NoError(t, err)
	assert.Contains(t, out, "unicode_translation.csv")
	assert.Contains(t, out, "train-images")
}

func TestResolve(t *testing.T) {
	data := isolate(t)
	fontServer(t)

	out, stderr, err := run(t, "resolve", "font", "--quiet", "--data-dir", data)
	require.NoError(t, err)
	want := filepath.Join(data, datacache.DatasetName, "NotoSansCJKjp-Regular.otf")
	assert.Equal(t, want+"\n", out)
	assert.Contains(t, stderr, "downloading noto-sans-cjk-jp")
	assert.FileExists(t, want)
	assert.NoFileExists(t, filepath.Join(data, datacache.DatasetName, "NotoSansCJKjp-hinted.zip"))

	// cache hit, JSON mode
	out, _, err = run(t, "resolve", "font", "--json", "--data-dir", data)
	require.NoError(t, err)
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"event":"cache_hit"`)
	var res datacache.Resolved
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &res))
	assert.Equal(t, datacache.Resolved{Name: "font", Path: want}, res)
}

func TestResolve_Errors(t *testing.T) {
	data := isolate(t)

	_, _, err := run(t, "resolve", "glyphs", "--quiet", "--data-dir", data)
	assert.ErrorIs(t, err, datacache.ErrUnknownResource)

	_, _, err = run(t, "resolve", "translation", "--quiet", "--data-dir", data)
	assert.ErrorIs(t, err, datacache.ErrAuthenticationFailed)

	_, _, err = run(t, "resolve", "--data-dir", data)
	assert.Error(t, err, "at least one name is required")
}

func TestStatusAndClean(t *testing.T) {
	data := isolate(t)
	fontServer(t)
	cacheDir := filepath.Join(data, datacache.DatasetName)

	_, _, err := run(t, "clean", "--data-dir", data)
	assert.Error(t, err)

	_, _, err = run(t, "resolve", "font", "--quiet", "--data-dir", data)
	require.NoError(t, err)
	part := filepath.Join(cacheDir, "kuzushiji-recognition.zip"+download.PartSuffix)
	require.NoError(t, os.WriteFile(part, []byte("partial"), 0o644))

	out, _, err := run(t, "status", "--json", "--data-dir", data)
	require.NoError(t, err)
	var st cacheStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.Exists)
	assert.Equal(t, 1, st.Cached)
	assert.Equal(t, 6, st.Total)
	assert.Equal(t, int64(4), st.Size)
	assert.Equal(t, []string{part}, st.Stale)

	out, _, err = run(t, "clean", "--stale", "--json", "--data-dir", data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"removed":[`+mustJSON(t, part)+`]}`, out)
	assert.NoFileExists(t, part)

	out, _, err = run(t, "clean", "font", "--data-dir", data)
	require.NoError(t, err)
	assert.Contains(t, out, "NotoSansCJKjp-Regular.otf")
	assert.NoFileExists(t, filepath.Join(cacheDir, "NotoSansCJKjp-Regular.otf"))

	out, _, err = run(t, "clean", "--all", "--data-dir", data)
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to remove")

	_, _, err = run(t, "clean", "glyphs", "--data-dir", data)
	assert.ErrorIs(t, err, datacache.ErrUnknownResource)
}

func TestFiles(t *testing.T) {
	isolate(t)
	t.Setenv("KAGGLE_USERNAME", "alice")
	t.Setenv("KAGGLE_KEY", "secret")

	kg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, key, ok := r.BasicAuth()
		if !ok || user != "alice" || key != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/v1/competitions/data/list/kuzushiji-recognition" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`[{"ref":"train.csv","name":"train.csv","totalBytes":2048},{"ref":"train_images.zip","name":"train_images.zip","totalBytes":1000000}]`))
	}))
	defer kg.Close()
	t.Setenv("KKRDATA_KAGGLE_ENDPOINT", kg.URL)

	out, _, err := run(t, "files", "--json")
	require.NoError(t, err)
	var files []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &files))
	require.Len(t, files, 2)
	assert.Equal(t, "train.csv", files[0]["name"])

	out, _, err = run(t, "files")
	require.NoError(t, err)
	assert.Contains(t, out, "train_images.zip")
	assert.Contains(t, out, "2 files")

	t.Setenv("KAGGLE_KEY", "wrong")
	_, _, err = run(t, "files")
	assert.ErrorIs(t, err, datacache.ErrAuthenticationFailed)
}

func TestConfig(t *testing.T) {
	home := filepath.Dir(isolate(t))
	path := filepath.Join(home, ".config", "kkrdata.json")

	out, _, err := run(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)

	_, _, err = run(t, "config", "init")
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, _, err = run(t, "config", "init")
	assert.Error(t, err, "existing file without --force")

	_, _, err = run(t, "config", "init", "--force")
	assert.NoError(t, err)

	_, _, err = run(t, "config", "init", "--yaml")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(home, ".config", "kkrdata.yaml"))

	t.Setenv("KKRDATA_KAGGLE_KEY", "abcdef123456")
	out, _, err = run(t, "config", "show", "--json")
	require.NoError(t, err)
	var shown struct {
		File     string         `json:"file"`
		Settings map[string]any `json:"settings"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, path, shown.File)
	assert.Equal(t, "abcd****", shown.Settings["kaggle-key"])
	assert.Equal(t, "~/.kkrdata/datasets", shown.Settings["data-dir"])
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, &datacache.FetchError{Archive: "a", Kind: datacache.ErrAuthenticationFailed})
	assert.Contains(t, buf.String(), "error:")
	assert.Contains(t, buf.String(), "KAGGLE_USERNAME")

	buf.Reset()
	printError(&buf, &datacache.UnknownResourceError{Name: "x"})
	assert.Contains(t, buf.String(), "kkrdata list")
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
