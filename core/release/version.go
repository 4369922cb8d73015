// Package release turns terminal job results into a published pre-release.
package release

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"release-orchestrator/core/models"
	"release-orchestrator/core/vcs"
)

// History is the read side of the repository the assembler needs
type History interface {
	Resolve(ctx context.Context, ref string) (string, error)
	CountCommits(ctx context.Context, ref string) (int, error)
	Tags(ctx context.Context) ([]vcs.Tag, error)
	CommitsSince(ctx context.Context, ref, since string) ([]vcs.Commit, error)
}

// BaseVersion is the name used before any stable tag exists
const BaseVersion = "0.1.0"

// defaultBetaMarker identifies beta tags, which do not count towards the version code
const defaultBetaMarker = "beta"

// Version is a derived release version
type Version struct {
	Code      int64  `json:"code"`
	Name      string `json:"name"`
	Tag       string `json:"tag"`
	CommitRef string `json:"commit_ref"`
}

// VersionPolicy derives versions for one channel
type VersionPolicy struct {
	Channel    models.ReleaseType
	Ref        string
	BetaMarker string
}

// VersionCode packs the history size and the channel into one monotonically
// increasing integer: (commits + nonBetaTags) << 1, low bit set for beta.
func VersionCode(commits, nonBetaTags int, channel models.ReleaseType) int64 {
	code := int64(commits+nonBetaTags) << 1
	if channel == models.ReleaseBeta {
		code |= 1
	}
	return code
}

// VersionName returns the next patch of the latest stable tag with a
// "<channel>.<code>" prerelease, e.g. 1.4.3-beta.9533.
func VersionName(tags []string, channel models.ReleaseType, code int64) (string, error) {
	var latest *semver.Version
	for _, t := range tags {
		v, err := semver.NewVersion(t)
		if err != nil || v.Prerelease() != "" {
			continue
		}
		if latest == nil || v.GreaterThan(latest) {
			latest = v
		}
	}

	var next semver.Version
	if latest == nil {
		next = *semver.MustParse(BaseVersion)
	} else {
		next = latest.IncPatch()
	}

	named, err := next.SetPrerelease(fmt.Sprintf("%s.%d", channel, code))
	if err != nil {
		return "", fmt.Errorf("failed to build version name: %w", err)
	}
	return named.String(), nil
}

// Derive computes the version of the release cut from p.Ref
func (p VersionPolicy) Derive(ctx context.Context, h History) (Version, error) {
	marker := p.BetaMarker
	if marker == "" {
		marker = defaultBetaMarker
	}

	commitRef, err := h.Resolve(ctx, p.Ref)
	if err != nil {
		return Version{}, fmt.Errorf("failed to resolve %s: %w", p.Ref, err)
	}
	commits, err := h.CountCommits(ctx, commitRef)
	if err != nil {
		return Version{}, err
	}
	tags, err := h.Tags(ctx)
	if err != nil {
		return Version{}, err
	}

	names := make([]string, 0, len(tags))
	nonBeta := 0
	for _, t := range tags {
		names = append(names, t.Name)
		if !strings.Contains(strings.ToLower(t.Name), marker) {
			nonBeta++
		}
	}

	code := VersionCode(commits, nonBeta, p.Channel)
	name, err := VersionName(names, p.Channel, code)
	if err != nil {
		return Version{}, err
	}

	return Version{Code: code, Name: name, Tag: "v" + name, CommitRef: commitRef}, nil
}
