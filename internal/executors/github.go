package executors

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"

	"github.com/ternarybob/taskrunner/internal/executor"
	"github.com/ternarybob/taskrunner/internal/journal"
)

// GitHubReleasesName is the journal key for the GitHub releases poll
// step.
const GitHubReleasesName = "github_releases"

// githubReleases polls the latest release of params.owner/params.repo
// and records its tag, publish time, and asset count. Params.token, if
// present, is used as a personal access token; otherwise requests are
// unauthenticated and subject to GitHub's stricter rate limit.
type githubReleases struct {
	client *github.Client
}

// GitHubReleases builds the executor. client is optional; pass nil to
// build a client per task, authenticated with params.token when present.
func GitHubReleases(client *github.Client) executor.Executor {
	return &githubReleases{client: client}
}

func (g *githubReleases) Name() string { return GitHubReleasesName }

func (g *githubReleases) Run(ctx context.Context, rc *executor.Context, key string, status journal.StatusData) (interface{}, bool, error) {
	params := journal.Params(status)
	owner, _ := params["owner"].(string)
	repo, _ := params["repo"].(string)
	if owner == "" || repo == "" {
		return nil, false, executor.NewRuntimeError("params.owner and params.repo are required")
	}

	client := g.client
	if client == nil {
		client = github.NewClient(nil)
		if token, _ := params["token"].(string); token != "" {
			client = client.WithAuthToken(token)
		}
	}

	release, resp, err := client.Repositories.GetLatestRelease(ctx, owner, repo)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return nil, false, executor.NewRuntimeError("no releases found for %s/%s", owner, repo)
		}
		// Any other API-level response (rate limit, abuse detection, 4xx/5xx)
		// is a recoverable failure scoped to this task, not a reason to
		// abort every sibling task - only a transport-layer failure with no
		// response at all (resp == nil) falls through to Classify.
		if resp != nil {
			return nil, false, executor.NewRuntimeError("github API error for %s/%s: %v", owner, repo, err)
		}
		return nil, false, fmt.Errorf("fetch latest release: %w", err)
	}

	patch := map[string]interface{}{
		"tag":          release.GetTagName(),
		"published_at": release.GetPublishedAt().Format("2006-01-02 15:04:05.000000"),
		"asset_count":  len(release.Assets),
	}
	return patch, true, nil
}
