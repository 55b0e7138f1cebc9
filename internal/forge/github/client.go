// Package github adapts google/go-github to the read/write surfaces
// ReviewCore and the command router need, grounded on the teacher's
// server/ghclient/client.go wrapper style (interface-first, auto-paginating
// list helpers, a thin PR-URL regex parser).
package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/hashicorp/golang-lru/v2"

	"github.com/agensys/mr-agent/internal/apperrors"
	"github.com/agensys/mr-agent/internal/managedcomment"
	"github.com/agensys/mr-agent/internal/policy"
	"github.com/agensys/mr-agent/internal/reviewcore"
)

const (
	maxListPages  = 20
	listPageSize  = 100
	fileCacheCap  = 500
	commentScanPages = 10
)

// Client wraps go-github for the review-orchestration surfaces this
// service needs: metadata/diff reads, line comments, check runs,
// labels, and the managed-comment upsert.
type Client struct {
	gh        *github.Client
	fileCache *lru.Cache[string, fileCacheEntry]
}

type fileCacheEntry struct {
	files     []reviewcore.RawFile
	truncated bool
}

// NewClient authenticates against the GitHub REST API with a PAT. When
// baseURL is non-empty the client targets a GitHub Enterprise instance
// instead of api.github.com.
func NewClient(token, baseURL string) (*Client, error) {
	gh := github.NewClient(nil).WithAuthToken(token)
	if baseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, err, "invalid GitHub enterprise base URL")
		}
	}
	cache, _ := lru.New[string, fileCacheEntry](fileCacheCap)
	return &Client{gh: gh, fileCache: cache}, nil
}

// NewClientWithGitHub wraps an already-constructed *github.Client,
// primarily so tests can point it at an httptest server.
func NewClientWithGitHub(gh *github.Client) *Client {
	cache, _ := lru.New[string, fileCacheEntry](fileCacheCap)
	return &Client{gh: gh, fileCache: cache}
}

// FetchMetadata satisfies reviewcore.ForgeReader.
func (c *Client) FetchMetadata(ctx context.Context, owner, repo string, number int) (reviewcore.Metadata, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return reviewcore.Metadata{}, apperrors.Wrap(apperrors.ProviderCall, err, "failed to fetch pull request")
	}
	return reviewcore.Metadata{
		Title:      pr.GetTitle(),
		Body:       pr.GetBody(),
		Author:     pr.GetUser().GetLogin(),
		BaseBranch: pr.GetBase().GetRef(),
		HeadBranch: pr.GetHead().GetRef(),
		HeadSHA:    pr.GetHead().GetSHA(),
		IsDraft:    pr.GetDraft(),
	}, nil
}

func fileCacheKey(owner, repo string, number int, sinceSHA string) string {
	return fmt.Sprintf("%s/%s#%d@%s", owner, repo, number, sinceSHA)
}

// FetchFiles satisfies reviewcore.ForgeReader. When sinceSHA is empty it
// auto-paginates up to maxListPages pages of listPageSize files off the
// full PR diff, reporting truncated=true if the wall was hit. When
// sinceSHA is set it instead resolves only the commits that landed since
// that SHA via CompareCommits, so a synchronize/edited trigger reviews
// the incremental diff rather than the whole PR again.
func (c *Client) FetchFiles(ctx context.Context, owner, repo string, number int, sinceSHA string) ([]reviewcore.RawFile, bool, error) {
	key := fileCacheKey(owner, repo, number, sinceSHA)
	if cached, ok := c.fileCache.Get(key); ok {
		return cached.files, cached.truncated, nil
	}

	if sinceSHA != "" {
		files, err := c.fetchFilesSince(ctx, owner, repo, number, sinceSHA)
		if err != nil {
			return nil, false, err
		}
		c.fileCache.Add(key, fileCacheEntry{files: files})
		return files, false, nil
	}

	var out []reviewcore.RawFile
	opts := &github.ListOptions{PerPage: listPageSize}
	truncated := false
	for page := 0; page < maxListPages; page++ {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, number, &github.ListOptions{Page: opts.Page, PerPage: opts.PerPage})
		if err != nil {
			return nil, false, apperrors.Wrap(apperrors.ProviderCall, err, "failed to list pull request files")
		}
		for _, f := range files {
			out = append(out, reviewcore.RawFile{
				NewPath:   f.GetFilename(),
				OldPath:   f.GetPreviousFilename(),
				Status:    normalizeStatus(f.GetStatus()),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Patch:     f.GetPatch(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
		if page == maxListPages-1 {
			truncated = true
		}
	}

	c.fileCache.Add(key, fileCacheEntry{files: out, truncated: truncated})
	return out, truncated, nil
}

// fetchFilesSince resolves the PR's current head SHA and diffs it against
// sinceSHA via the compare API, used by FetchFiles for the incremental
// review path.
func (c *Client) fetchFilesSince(ctx context.Context, owner, repo string, number int, sinceSHA string) ([]reviewcore.RawFile, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ProviderCall, err, "failed to fetch pull request head for incremental diff")
	}
	cmp, err := c.CompareCommits(ctx, owner, repo, sinceSHA, pr.GetHead().GetSHA())
	if err != nil {
		return nil, err
	}
	out := make([]reviewcore.RawFile, 0, len(cmp.Files))
	for _, f := range cmp.Files {
		out = append(out, reviewcore.RawFile{
			NewPath:   f.GetFilename(),
			OldPath:   f.GetPreviousFilename(),
			Status:    normalizeStatus(f.GetStatus()),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
			Patch:     f.GetPatch(),
		})
	}
	return out, nil
}

func normalizeStatus(ghStatus string) string {
	switch ghStatus {
	case "added":
		return "added"
	case "removed":
		return "removed"
	case "renamed":
		return "renamed"
	default:
		return "modified"
	}
}

// UpsertManagedComment satisfies reviewcore.ForgePublisher. It scans up
// to commentScanPages pages of existing issue comments for a marker of
// the same kind; a match is edited in place, otherwise a new comment is
// created.
func (c *Client) UpsertManagedComment(ctx context.Context, owner, repo string, number int, kind, digest, body string) error {
	existing, err := c.findManagedComment(ctx, owner, repo, number, kind)
	if err != nil {
		return err
	}
	if existing != nil {
		_, _, err := c.gh.Issues.EditComment(ctx, owner, repo, existing.GetID(), &github.IssueComment{Body: github.Ptr(body)})
		if err != nil {
			return apperrors.Wrap(apperrors.PublishFailure, err, "failed to edit managed comment")
		}
		return nil
	}

	_, _, err = c.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		return apperrors.Wrap(apperrors.PublishFailure, err, "failed to create managed comment")
	}
	return nil
}

func (c *Client) findManagedComment(ctx context.Context, owner, repo string, number int, kind string) (*github.IssueComment, error) {
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: listPageSize}}
	for page := 0; page < commentScanPages; page++ {
		comments, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ProviderCall, err, "failed to list issue comments")
		}
		for _, comment := range comments {
			if managedcomment.HasKind(comment.GetBody(), kind) {
				return comment, nil
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return nil, nil
}

// PublishLineComment satisfies reviewcore.ForgePublisher, posting a
// single-line review comment anchored to the pull request's current
// head commit.
func (c *Client) PublishLineComment(ctx context.Context, owner, repo string, number int, file string, side string, line int, body string) error {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return apperrors.Wrap(apperrors.ProviderCall, err, "failed to fetch pull request for line comment")
	}

	commentSide := "RIGHT"
	if side == "old" {
		commentSide = "LEFT"
	}

	_, _, err = c.gh.PullRequests.CreateComment(ctx, owner, repo, number, &github.PullRequestComment{
		Body:     github.Ptr(body),
		CommitID: github.Ptr(pr.GetHead().GetSHA()),
		Path:     github.Ptr(file),
		Line:     github.Ptr(line),
		Side:     github.Ptr(commentSide),
	})
	if err != nil {
		return apperrors.Wrap(apperrors.PublishFailure, err, "failed to create review comment")
	}
	return nil
}

// SetLabels satisfies reviewcore.ForgePublisher, replacing the issue's
// label set with labels (GitHub's ReplaceLabelsForIssue semantics).
func (c *Client) SetLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	_, _, err := c.gh.Issues.ReplaceLabelsForIssue(ctx, owner, repo, number, labels)
	if err != nil {
		return apperrors.Wrap(apperrors.PublishFailure, err, "failed to set labels")
	}
	return nil
}

// FetchFile satisfies policy.FileFetcher: it reads path at ref and
// reports ok=false (no error) when the file simply does not exist,
// distinguishing a missing review-policy file from a transport failure.
func (c *Client) FetchFile(ctx context.Context, owner, repo, ref, path string) ([]byte, bool, error) {
	content, err := c.ReadFile(ctx, owner, repo, path, ref)
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == 404 {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(content), true, nil
}

// ReadFile fetches the base64-encoded contents of path at ref and
// returns the decoded, newline-stripped result.
func (c *Client) ReadFile(ctx context.Context, owner, repo, path, ref string) (string, error) {
	fileContent, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", apperrors.Wrap(apperrors.ProviderCall, err, fmt.Sprintf("failed to read %s@%s", path, ref))
	}
	if fileContent == nil {
		return "", apperrors.New(apperrors.ProviderCall, fmt.Sprintf("%s is not a file", path))
	}
	if fileContent.GetEncoding() == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(fileContent.GetContent(), "\n", ""))
		if err != nil {
			return "", apperrors.Wrap(apperrors.Internal, err, "failed to decode file content")
		}
		return string(decoded), nil
	}
	return fileContent.GetContent(), nil
}

// CompareCommits wraps the compare API, used by the incremental-review
// path to resolve exactly which commits landed since the last reviewed
// head.
func (c *Client) CompareCommits(ctx context.Context, owner, repo, base, head string) (*github.CommitsComparison, error) {
	cmp, _, err := c.gh.Repositories.CompareCommits(ctx, owner, repo, base, head, &github.ListOptions{PerPage: listPageSize})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ProviderCall, err, "failed to compare commits")
	}
	return cmp, nil
}

// CheckRuns lists the check runs for ref, used to assemble the CICheck
// list the prompt builder surfaces.
func (c *Client) CheckRuns(ctx context.Context, owner, repo, ref string) ([]*github.CheckRun, error) {
	var all []*github.CheckRun
	opts := &github.ListCheckRunsOptions{ListOptions: github.ListOptions{PerPage: listPageSize}}
	for page := 0; page < maxListPages; page++ {
		result, resp, err := c.gh.Checks.ListCheckRunsForRef(ctx, owner, repo, ref, opts)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ProviderCall, err, "failed to list check runs")
		}
		all = append(all, result.CheckRuns...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

var _ reviewcore.ForgeReader = (*Client)(nil)
var _ reviewcore.ForgePublisher = (*Client)(nil)
var _ policy.FileFetcher = (*Client)(nil)
