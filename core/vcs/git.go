// Package vcs reads release history from a git repository.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// ErrTagExists is returned when creating a tag that is already present
var ErrTagExists = errors.New("tag already exists")

// Tag is a tag name and the commit it points at
type Tag struct {
	Name   string
	Commit string
	When   time.Time // commit time of the tagged commit
}

// Commit is the subset of commit data the release notes need
type Commit struct {
	Hash    string
	Subject string
	Message string
	Author  string
	When    time.Time
}

// Signature identifies who creates release tags
type Signature struct {
	Name  string
	Email string
}

// Repository wraps a go-git repository
type Repository struct {
	repo   *git.Repository
	tagger Signature
	now    func() time.Time
}

// Open opens the repository containing path
func Open(path string, tagger Signature) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository %s: %w", path, err)
	}
	return New(repo, tagger), nil
}

// New wraps an already opened repository
func New(repo *git.Repository, tagger Signature) *Repository {
	if tagger.Name == "" {
		tagger = Signature{Name: "release-orchestrator", Email: "release-orchestrator@localhost"}
	}
	return &Repository{repo: repo, tagger: tagger, now: time.Now}
}

// Resolve returns the commit hash of ref. Branch names that only exist on
// origin are accepted too.
func (r *Repository) Resolve(ctx context.Context, ref string) (string, error) {
	h, err := r.resolve(ref)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

func (r *Repository) resolve(ref string) (plumbing.Hash, error) {
	if ref == "" {
		ref = "HEAD"
	}
	h, err := r.repo.ResolveRevision(plumbing.Revision(ref))
	if err == nil {
		return *h, nil
	}
	if !strings.HasPrefix(ref, "origin/") {
		if h, rerr := r.repo.ResolveRevision(plumbing.Revision("origin/" + ref)); rerr == nil {
			return *h, nil
		}
	}
	return plumbing.ZeroHash, fmt.Errorf("failed to resolve %s: %w", ref, err)
}

// CountCommits returns how many commits are reachable from ref
func (r *Repository) CountCommits(ctx context.Context, ref string) (int, error) {
	from, err := r.resolve(ref)
	if err != nil {
		return 0, err
	}
	iter, err := r.repo.Log(&git.LogOptions{From: from})
	if err != nil {
		return 0, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	count := 0
	err = iter.ForEach(func(*object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count commits: %w", err)
	}
	return count, nil
}

// Tags returns every tag, oldest tagged commit first
func (r *Repository) Tags(ctx context.Context) ([]Tag, error) {
	iter, err := r.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer iter.Close()

	var tags []Tag
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		commit, err := r.tagCommit(ref)
		if err != nil {
			// tags on trees or blobs do not take part in versioning
			return nil
		}
		tags = append(tags, Tag{
			Name:   ref.Name().Short(),
			Commit: commit.Hash.String(),
			When:   commit.Committer.When,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate tags: %w", err)
	}

	sort.SliceStable(tags, func(i, j int) bool {
		if tags[i].When.Equal(tags[j].When) {
			return tags[i].Name < tags[j].Name
		}
		return tags[i].When.Before(tags[j].When)
	})
	return tags, nil
}

func (r *Repository) tagCommit(ref *plumbing.Reference) (*object.Commit, error) {
	if tag, err := r.repo.TagObject(ref.Hash()); err == nil {
		return tag.Commit()
	}
	return r.repo.CommitObject(ref.Hash())
}

// CommitsSince returns the commits reachable from ref but not from since,
// newest first. An empty since returns the whole history.
func (r *Repository) CommitsSince(ctx context.Context, ref, since string) ([]Commit, error) {
	from, err := r.resolve(ref)
	if err != nil {
		return nil, err
	}

	exclude := map[plumbing.Hash]struct{}{}
	if since != "" {
		base, err := r.resolve(since)
		if err != nil {
			return nil, err
		}
		if err := r.walk(ctx, base, func(c *object.Commit) error {
			exclude[c.Hash] = struct{}{}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	var commits []Commit
	err = r.walk(ctx, from, func(c *object.Commit) error {
		if _, ok := exclude[c.Hash]; ok {
			return nil
		}
		commits = append(commits, toCommit(c))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(commits, func(i, j int) bool { return commits[i].When.After(commits[j].When) })
	return commits, nil
}

func (r *Repository) walk(ctx context.Context, from plumbing.Hash, fn func(*object.Commit) error) error {
	iter, err := r.repo.Log(&git.LogOptions{From: from})
	if err != nil {
		return fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(c)
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return fmt.Errorf("failed to walk history: %w", err)
	}
	return nil
}

// CreateTag creates an annotated tag at ref
func (r *Repository) CreateTag(ctx context.Context, name, ref, message string) error {
	if name == "" {
		return errors.New("tag name cannot be empty")
	}
	if _, err := r.repo.Reference(plumbing.NewTagReferenceName(name), true); err == nil {
		return fmt.Errorf("%s: %w", name, ErrTagExists)
	}

	hash, err := r.resolve(ref)
	if err != nil {
		return err
	}

	if message == "" {
		message = name
	}
	_, err = r.repo.CreateTag(name, hash, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  r.tagger.Name,
			Email: r.tagger.Email,
			When:  r.now(),
		},
		Message: message,
	})
	if err != nil {
		return fmt.Errorf("failed to create tag %s: %w", name, err)
	}
	return nil
}

func toCommit(c *object.Commit) Commit {
	subject, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return Commit{
		Hash:    c.Hash.String(),
		Subject: strings.TrimSpace(subject),
		Message: c.Message,
		Author:  c.Author.Name,
		When:    c.Committer.When,
	}
}
