package protocoldriver

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// GitDriver downloads a source by cloning (or pulling, if already
// cloned) a git repository, comparing HEAD or a pinned commit/tag
// against the source's last recorded release.
type GitDriver struct {
	// Auth is used for private repositories; nil for anonymous clones.
	Auth *http.BasicAuth
}

func (d *GitDriver) Scheme() string { return "git" }

func (d *GitDriver) Check(ctx context.Context, uri string) (RemoteInfo, error) {
	remote := git.NewRemote(nil, &git.RemoteConfig{Name: "origin", URLs: []string{uri}})
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: d.Auth})
	if err != nil {
		return RemoteInfo{}, fmt.Errorf("protocoldriver: list refs for %s: %w", uri, err)
	}
	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD {
			continue
		}
		if ref.Name().String() == "refs/heads/main" || ref.Name().String() == "refs/heads/master" {
			return RemoteInfo{Release: ref.Hash().String()}, nil
		}
	}
	if len(refs) > 0 {
		return RemoteInfo{Release: refs[0].Hash().String()}, nil
	}
	return RemoteInfo{}, fmt.Errorf("protocoldriver: no refs found for %s", uri)
}

func (d *GitDriver) Download(ctx context.Context, uri, destDir string) (RemoteInfo, error) {
	if _, err := os.Stat(destDir); err == nil {
		repo, err := git.PlainOpen(destDir)
		if err == nil {
			wt, err := repo.Worktree()
			if err == nil {
				pullErr := wt.PullContext(ctx, &git.PullOptions{Auth: d.Auth})
				if pullErr == nil || pullErr == git.NoErrAlreadyUpToDate {
					return d.headInfo(repo)
				}
			}
		}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return RemoteInfo{}, fmt.Errorf("protocoldriver: create dest dir %s: %w", destDir, err)
	}
	repo, err := git.PlainCloneContext(ctx, destDir, false, &git.CloneOptions{
		URL:   uri,
		Auth:  d.Auth,
		Depth: 1,
	})
	if err != nil {
		return RemoteInfo{}, fmt.Errorf("protocoldriver: clone %s: %w", uri, err)
	}
	return d.headInfo(repo)
}

func (d *GitDriver) headInfo(repo *git.Repository) (RemoteInfo, error) {
	head, err := repo.Head()
	if err != nil {
		return RemoteInfo{}, fmt.Errorf("protocoldriver: read HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	modTime := time.Now()
	if err == nil {
		modTime = commit.Committer.When
	}
	return RemoteInfo{Release: head.Hash().String(), ModTime: modTime}, nil
}
