// Package upstream reads custom format definitions from the upstream guides
// git repository and reports what changed between commits.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/foxzi/arrsync/internal/config"
	"github.com/foxzi/arrsync/internal/models"
)

// Source is a commit-addressed store of upstream definitions
type Source interface {
	LatestCommit(ctx context.Context) (string, error)
	Delta(ctx context.Context, fromCommit string) (*Delta, error)
	Catalog(ctx context.Context, serviceType models.ServiceType) (*models.Catalog, error)
}

// GitSource keeps a local bare clone of the upstream repository
type GitSource struct {
	cfg    config.UpstreamConfig
	logger *slog.Logger

	mu   sync.Mutex
	repo *git.Repository
}

// NewGitSource creates a source; nothing is cloned until first use
func NewGitSource(cfg config.UpstreamConfig, logger *slog.Logger) *GitSource {
	return &GitSource{
		cfg:    cfg,
		logger: logger.With("component", "upstream"),
	}
}

func (s *GitSource) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *GitSource) remoteRef() plumbing.ReferenceName {
	return plumbing.NewRemoteReferenceName(git.DefaultRemoteName, s.cfg.Branch)
}

// open returns the local clone, cloning it on first use. Caller holds mu.
func (s *GitSource) open(ctx context.Context) (*git.Repository, bool, error) {
	if s.repo != nil {
		return s.repo, false, nil
	}

	repo, err := git.PlainOpen(s.cfg.CloneDir)
	if err == nil {
		s.repo = repo
		return repo, false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, fmt.Errorf("failed to open upstream clone: %w", err)
	}

	s.logger.Info("cloning upstream repository", "url", s.cfg.URL, "branch", s.cfg.Branch)
	repo, err = git.PlainCloneContext(ctx, s.cfg.CloneDir, true, &git.CloneOptions{
		URL:           s.cfg.URL,
		ReferenceName: plumbing.NewBranchReferenceName(s.cfg.Branch),
		SingleBranch:  true,
		Tags:          git.NoTags,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to clone upstream repository: %w", err)
	}
	s.repo = repo
	return repo, true, nil
}

// head resolves the tip of the tracked branch in the local clone
func (s *GitSource) head(repo *git.Repository) (*object.Commit, error) {
	candidates := []plumbing.ReferenceName{
		s.remoteRef(),
		plumbing.NewBranchReferenceName(s.cfg.Branch),
	}
	for _, name := range candidates {
		ref, err := repo.Reference(name, true)
		if err != nil {
			continue
		}
		return repo.CommitObject(ref.Hash())
	}
	return nil, fmt.Errorf("branch %q not found in upstream clone", s.cfg.Branch)
}

// LatestCommit fetches the tracked branch and returns its tip
func (s *GitSource) LatestCommit(ctx context.Context) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	repo, cloned, err := s.open(ctx)
	if err != nil {
		return "", err
	}

	if !cloned {
		refSpec := gitconfig.RefSpec(fmt.Sprintf("+%s:%s", plumbing.NewBranchReferenceName(s.cfg.Branch), s.remoteRef()))
		err := repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: git.DefaultRemoteName,
			RefSpecs:   []gitconfig.RefSpec{refSpec},
			Tags:       git.NoTags,
			Force:      true,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return "", fmt.Errorf("failed to fetch upstream: %w", err)
		}
	}

	commit, err := s.head(repo)
	if err != nil {
		return "", err
	}
	return commit.Hash.String(), nil
}

// Delta lists the format changes between fromCommit and the local tip. An
// empty or unknown fromCommit yields every format as new.
func (s *GitSource) Delta(ctx context.Context, fromCommit string) (*Delta, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	repo, _, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	to, err := s.head(repo)
	if err != nil {
		return nil, err
	}
	toTree, err := to.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}

	delta := &Delta{From: fromCommit, To: to.Hash.String()}
	if fromCommit == delta.To {
		return delta, nil
	}

	var fromTree *object.Tree
	if fromCommit != "" {
		from, err := repo.CommitObject(plumbing.NewHash(fromCommit))
		if err != nil {
			s.logger.Warn("base commit not in upstream clone, treating every format as new",
				"commit", fromCommit, "error", err)
		} else if fromTree, err = from.Tree(); err != nil {
			return nil, fmt.Errorf("failed to read tree: %w", err)
		}
	}

	if fromTree == nil {
		err := toTree.Files().ForEach(func(f *object.File) error {
			st, kind := classify(f.Name)
			if kind != kindFormat {
				return nil
			}
			if next := s.parseFile(f); next != nil {
				delta.Changes = append(delta.Changes, FormatChange{ServiceType: st, TrashID: next.TrashID, Format: next})
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk tree: %w", err)
		}
		return delta, nil
	}

	changes, err := fromTree.DiffContext(ctx, toTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff upstream trees: %w", err)
	}

	for _, change := range changes {
		fromFile, toFile, err := change.Files()
		if err != nil {
			return nil, fmt.Errorf("failed to read changed files: %w", err)
		}

		var prev, next *models.FormatDefinition
		var prevST, nextST models.ServiceType
		if fromFile != nil {
			if st, kind := classify(fromFile.Name); kind == kindFormat {
				prevST = st
				prev = s.parseFile(fromFile)
			}
		}
		if toFile != nil {
			if st, kind := classify(toFile.Name); kind == kindFormat {
				nextST = st
				next = s.parseFile(toFile)
			}
		}

		// a rename may move a file across ids or service types
		if prev != nil && (next == nil || next.TrashID != prev.TrashID || nextST != prevST) {
			delta.Changes = append(delta.Changes, FormatChange{ServiceType: prevST, TrashID: prev.TrashID, Previous: prev})
			prev = nil
		}
		if next != nil {
			delta.Changes = append(delta.Changes, FormatChange{ServiceType: nextST, TrashID: next.TrashID, Previous: prev, Format: next})
		}
	}

	return delta, nil
}

// Catalog reads every format and quality profile of a service type at the local tip
func (s *GitSource) Catalog(ctx context.Context, serviceType models.ServiceType) (*models.Catalog, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	repo, _, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	commit, err := s.head(repo)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}

	catalog := &models.Catalog{
		ServiceType: serviceType,
		Commit:      commit.Hash.String(),
		Formats:     []models.FormatDefinition{},
		Profiles:    []models.CatalogProfile{},
	}

	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		st, kind := classify(f.Name)
		if st != serviceType {
			return nil
		}
		switch kind {
		case kindFormat:
			if def := s.parseFile(f); def != nil {
				catalog.Formats = append(catalog.Formats, *def)
			}
		case kindProfile:
			data, err := f.Contents()
			if err != nil {
				return err
			}
			p, err := ParseProfile([]byte(data))
			if err != nil {
				s.logger.Warn("skipping quality profile", "path", f.Name, "error", err)
				return nil
			}
			catalog.Profiles = append(catalog.Profiles, *p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk tree: %w", err)
	}

	return catalog, nil
}

func (s *GitSource) parseFile(f *object.File) *models.FormatDefinition {
	data, err := f.Contents()
	if err != nil {
		s.logger.Warn("failed to read format", "path", f.Name, "error", err)
		return nil
	}
	def, err := ParseFormat([]byte(data))
	if err != nil {
		s.logger.Warn("skipping format", "path", f.Name, "error", err)
		return nil
	}
	return def
}
