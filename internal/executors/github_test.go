package executors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	ghclient "github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/taskrunner/internal/executor"
	"github.com/ternarybob/taskrunner/internal/journal"
)

func testGitHubClient(t *testing.T, handler http.HandlerFunc) *ghclient.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := ghclient.NewClient(nil)
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	client.UploadURL = base
	return client
}

func TestGitHubReleasesRequiresOwnerAndRepo(t *testing.T) {
	rc := executor.NewContext(t.TempDir(), nil, nil, nil, nil, 1)
	status := journal.New("g", map[string]interface{}{})

	_, _, err := GitHubReleases(nil).Run(context.Background(), rc, "g", status)
	require.Error(t, err)
	kind, recoverable := executor.Classify(err)
	assert.Equal(t, "RuntimeError", kind)
	assert.True(t, recoverable)
}

func TestGitHubReleasesRecordsTagAndAssetCount(t *testing.T) {
	client := testGitHubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"tag_name": "v1.2.3",
			"published_at": "2024-05-01T00:00:00Z",
			"assets": [{"id": 1}, {"id": 2}]
		}`))
	})

	rc := executor.NewContext(t.TempDir(), nil, nil, nil, nil, 1)
	status := journal.New("g", map[string]interface{}{"owner": "acme", "repo": "widgets"})

	patch, updated, err := GitHubReleases(client).Run(context.Background(), rc, "g", status)
	require.NoError(t, err)
	assert.True(t, updated)

	m := patch.(map[string]interface{})
	assert.Equal(t, "v1.2.3", m["tag"])
	assert.Equal(t, 2, m["asset_count"])
}

func TestGitHubReleasesNotFoundIsRecoverableError(t *testing.T) {
	client := testGitHubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "Not Found"}`))
	})

	rc := executor.NewContext(t.TempDir(), nil, nil, nil, nil, 1)
	status := journal.New("g", map[string]interface{}{"owner": "acme", "repo": "ghost"})

	_, _, err := GitHubReleases(client).Run(context.Background(), rc, "g", status)
	require.Error(t, err)
	kind, recoverable := executor.Classify(err)
	assert.Equal(t, "RuntimeError", kind)
	assert.True(t, recoverable)
}

func TestGitHubReleasesRateLimitedIsRecoverableNotFatal(t *testing.T) {
	client := testGitHubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "60")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", "9999999999")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message": "API rate limit exceeded"}`))
	})

	rc := executor.NewContext(t.TempDir(), nil, nil, nil, nil, 1)
	status := journal.New("g", map[string]interface{}{"owner": "acme", "repo": "widgets"})

	_, _, err := GitHubReleases(client).Run(context.Background(), rc, "g", status)
	require.Error(t, err)
	kind, recoverable := executor.Classify(err)
	assert.Equal(t, "RuntimeError", kind)
	assert.True(t, recoverable, "a rate-limited GitHub call must degrade one task, not abort the whole fleet")
}
