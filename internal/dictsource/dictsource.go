// Package dictsource keeps dictionary directories in sync with git repositories.
package dictsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Syncer clones or pulls dictionary repositories below a base directory.
type Syncer struct {
	baseDir  string
	log      *slog.Logger
	progress io.Writer
}

// NewSyncer returns a Syncer placing repositories under baseDir.
// progress receives git's progress output and may be nil.
func NewSyncer(baseDir string, log *slog.Logger, progress io.Writer) *Syncer {
	return &Syncer{baseDir: baseDir, log: log, progress: progress}
}

// Sync clones repoURL if it is not present locally, or pulls the latest
// changes if it is. It returns the local path of the repository.
func (s *Syncer) Sync(ctx context.Context, repoURL string) (string, error) {
	localPath, err := LocalPath(s.baseDir, repoURL)
	if err != nil {
		return "", err
	}

	_, err = os.Stat(localPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.log.Info("cloning dictionary repository", "url", repoURL, "path", localPath)
		_, err := git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{
			URL:      repoURL,
			Progress: s.progress,
		})
		if err != nil {
			return "", fmt.Errorf("failed to clone repo %s: %w", repoURL, err)
		}
		s.log.Info("clone successful", "path", localPath)

	case err == nil:
		s.log.Info("pulling dictionary repository", "path", localPath)
		repo, err := git.PlainOpen(localPath)
		if err != nil {
			return "", fmt.Errorf("failed to open existing repo at %s: %w", localPath, err)
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return "", fmt.Errorf("failed to get worktree for repo at %s: %w", localPath, err)
		}
		err = worktree.PullContext(ctx, &git.PullOptions{
			RemoteName: "origin",
			Progress:   s.progress,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return "", fmt.Errorf("failed to pull changes for repo at %s: %w", localPath, err)
		}
		s.log.Info("pull successful", "path", localPath, "up_to_date", errors.Is(err, git.NoErrAlreadyUpToDate))

	default:
		return "", fmt.Errorf("error checking path %s: %w", localPath, err)
	}

	return localPath, nil
}

// LocalPath maps a repository URL to a directory below baseDir:
// https://host/owner/repo.git and git@host:owner/repo.git both become
// baseDir/host/owner/repo. Local paths and file:// URLs map to
// baseDir/local/<last element>.
func LocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err == nil {
		switch parsedURL.Scheme {
		case "https", "http", "ssh", "git":
			return join(baseDir, parsedURL.Host, parsedURL.Path)
		case "file":
			return join(baseDir, "local", filepath.Base(parsedURL.Path))
		}
	}

	if strings.Contains(repoURL, "@") {
		parts := strings.Split(repoURL, ":")
		if len(parts) == 2 {
			hostAndUser := strings.Split(parts[0], "@")
			if len(hostAndUser) == 2 {
				return join(baseDir, hostAndUser[1], parts[1])
			}
		}
	}

	if filepath.IsAbs(repoURL) {
		return join(baseDir, "local", filepath.Base(repoURL))
	}
	return "", fmt.Errorf("could not parse git URL: %s", repoURL)
}

func join(baseDir, host, repoPath string) (string, error) {
	repoPath = strings.TrimSuffix(strings.Trim(repoPath, "/"), ".git")
	if host == "" || repoPath == "" || repoPath == "." {
		return "", fmt.Errorf("could not derive a directory from host %q and path %q", host, repoPath)
	}
	rel := filepath.Join(host, filepath.FromSlash(repoPath))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("repository path %q escapes the dictionary dir", repoPath)
	}
	return filepath.Join(baseDir, rel), nil
}
