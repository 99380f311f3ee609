package pluginloader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/go-github/v66/github"

	"github.com/biohub-dev/biohub/internal/hubdb"
)

// FetchGitHubOrigin resolves ownerRepo's latest release tag (falling
// back to the default branch HEAD when the repository has no
// releases), clones that ref into Root/<repo>, and registers a
// PluginRecord with origin "github://owner/repo@ref" — the
// GitHub-hosted counterpart to Discover's "local://" registration.
// Grounded on the same github.NewClient/Repositories-call shape the
// distri autobuilder (other_examples) uses to poll a GitHub repo for
// new commits before rebuilding.
func (l *Loader) FetchGitHubOrigin(ctx context.Context, ownerRepo string) (string, error) {
	owner, repo, ok := strings.Cut(ownerRepo, "/")
	if !ok {
		return "", fmt.Errorf("pluginloader: github origin %q is not owner/repo", ownerRepo)
	}

	client := github.NewClient(nil)
	ref := ""
	if rel, _, err := client.Repositories.GetLatestRelease(ctx, owner, repo); err == nil {
		ref = rel.GetTagName()
	}

	dir := filepath.Join(l.Root, repo)
	cloneOpts := &git.CloneOptions{URL: fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)}
	if ref != "" {
		cloneOpts.ReferenceName = plumbing.NewTagReferenceName(ref)
	}
	if _, err := git.PlainCloneContext(ctx, dir, false, cloneOpts); err != nil {
		return "", fmt.Errorf("pluginloader: clone %s/%s: %w", owner, repo, err)
	}

	origin := fmt.Sprintf("github://%s/%s", owner, repo)
	if ref != "" {
		origin += "@" + ref
	}
	if err := l.Plugins.Upsert(ctx, &hubdb.PluginRecord{
		ID:         repo,
		URL:        origin,
		Type:       "github",
		Active:     true,
		DataFolder: dir,
	}); err != nil {
		return "", err
	}
	return dir, nil
}
