package executors

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskrunner/internal/contentstore"
	"github.com/ternarybob/taskrunner/internal/executor"
	"github.com/ternarybob/taskrunner/internal/journal"
)

func TestScraperRecordsSizeContentAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Custom", "yes")
		w.Write([]byte("X"))
	}))
	defer server.Close()

	dir := t.TempDir()
	rc := executor.NewContext(dir, nil, nil, nil, nil, 1)
	require.NoError(t, rc.Acquire(context.Background()))
	defer rc.Release()

	status := journal.New("g", map[string]interface{}{"url": server.URL})

	patch, updated, err := Scraper().Run(context.Background(), rc, "g", status)
	require.NoError(t, err)
	assert.True(t, updated)

	m := patch.(map[string]interface{})
	assert.Equal(t, 1, m["size"])
	sum := md5.Sum([]byte("X"))
	assert.Equal(t, hex.EncodeToString(sum[:]), m["content"])
	assert.Equal(t, "yes", m["response_headers"].(map[string]string)["X-Custom"])

	body, err := os.ReadFile(filepath.Join(dir, "g.scrape"))
	require.NoError(t, err)
	assert.Equal(t, "X", string(body))
}

func TestScraperNon2xxIsRecoverableAndRemovesScratchFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dir := t.TempDir()
	rc := executor.NewContext(dir, nil, nil, nil, nil, 1)
	require.NoError(t, rc.Acquire(context.Background()))
	defer rc.Release()

	status := journal.New("g", map[string]interface{}{"url": server.URL})

	_, _, err := Scraper().Run(context.Background(), rc, "g", status)
	require.Error(t, err)
	kind, recoverable := executor.Classify(err)
	assert.Equal(t, "RuntimeError", kind)
	assert.True(t, recoverable)
	assert.Contains(t, err.Error(), "HTTP response 500")

	_, statErr := os.Stat(filepath.Join(dir, "g.scrape"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestScraperMarksCacheHitOnRepeatContentAcrossKeys(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("same body"))
	}))
	defer server.Close()

	dir := t.TempDir()
	store, err := contentstore.Open(arbor.NewLogger(), filepath.Join(t.TempDir(), "content"))
	require.NoError(t, err)
	defer store.Close()

	rc := executor.NewContext(dir, nil, nil, nil, store, 1)
	require.NoError(t, rc.Acquire(context.Background()))
	defer rc.Release()

	first, _, err := Scraper().Run(context.Background(), rc, "first", journal.New("first", map[string]interface{}{"url": server.URL}))
	require.NoError(t, err)
	assert.Nil(t, first.(map[string]interface{})["cache_hit"])

	second, _, err := Scraper().Run(context.Background(), rc, "second", journal.New("second", map[string]interface{}{"url": server.URL}))
	require.NoError(t, err)
	assert.Equal(t, true, second.(map[string]interface{})["cache_hit"])

	body, err := os.ReadFile(filepath.Join(dir, "second.scrape"))
	require.NoError(t, err)
	assert.Equal(t, "same body", string(body))
}

func TestScraperWithValidationRejectsAndRemovesScratchFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("no marker here"))
	}))
	defer server.Close()

	dir := t.TempDir()
	rc := executor.NewContext(dir, nil, nil, nil, nil, 1)
	require.NoError(t, rc.Acquire(context.Background()))
	defer rc.Release()

	status := journal.New("g", map[string]interface{}{"url": server.URL})

	validated := ScraperWithValidation(func(body []byte) error {
		if string(body) != "expected-marker" {
			return executor.NewRuntimeError("missing marker")
		}
		return nil
	})

	_, _, err := validated.Run(context.Background(), rc, "g", status)
	require.Error(t, err)
	kind, recoverable := executor.Classify(err)
	assert.Equal(t, "RuntimeError", kind)
	assert.True(t, recoverable)

	_, statErr := os.Stat(filepath.Join(dir, "g.scrape"))
	assert.True(t, os.IsNotExist(statErr))
}
