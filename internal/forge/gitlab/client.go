// Package gitlab adapts xanzy/go-gitlab to the same read/write surfaces
// internal/forge/github exposes, following the teacher's
// server/ghclient/client.go shape (interface-first wrapper, auto-paginating
// list helpers) generalised to GitLab's merge-request/discussion model.
// go-gitlab itself is not grounded in any pack repo — see DESIGN.md.
package gitlab

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/xanzy/go-gitlab"

	"github.com/agensys/mr-agent/internal/apperrors"
	"github.com/agensys/mr-agent/internal/managedcomment"
	"github.com/agensys/mr-agent/internal/policy"
	"github.com/agensys/mr-agent/internal/reviewcore"
)

const (
	maxListPages     = 20
	listPageSize     = 100
	commentScanPages = 10
)

// Client wraps go-gitlab for the orchestration surfaces this service
// needs against merge requests.
type Client struct {
	gl *gitlab.Client
}

// NewClient authenticates against baseURL (empty means gitlab.com) with
// a personal/project access token. insecureHTTP allows a plain-http
// baseURL, which config.IsValid otherwise forbids outside local testing.
func NewClient(token, baseURL string, insecureHTTP bool) (*Client, error) {
	if baseURL != "" && !insecureHTTP && !strings.HasPrefix(baseURL, "https://") {
		return nil, apperrors.New(apperrors.MissingConfig, "GitLab base URL must use HTTPS unless ALLOW_INSECURE_GITLAB_HTTP is set")
	}

	var opts []gitlab.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}
	gl, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, err, "failed to construct GitLab client")
	}
	return &Client{gl: gl}, nil
}

func projectPath(owner, repo string) string {
	return owner + "/" + repo
}

// FetchMetadata satisfies reviewcore.ForgeReader.
func (c *Client) FetchMetadata(ctx context.Context, owner, repo string, number int) (reviewcore.Metadata, error) {
	mr, _, err := c.gl.MergeRequests.GetMergeRequest(projectPath(owner, repo), number, nil, gitlab.WithContext(ctx))
	if err != nil {
		return reviewcore.Metadata{}, apperrors.Wrap(apperrors.ProviderCall, err, "failed to fetch merge request")
	}
	return reviewcore.Metadata{
		Title:      mr.Title,
		Body:       mr.Description,
		Author:     authorUsername(mr),
		BaseBranch: mr.TargetBranch,
		HeadBranch: mr.SourceBranch,
		HeadSHA:    mr.SHA,
		IsDraft:    mr.Draft || mr.WorkInProgress,
	}, nil
}

func authorUsername(mr *gitlab.MergeRequest) string {
	if mr.Author == nil {
		return ""
	}
	return mr.Author.Username
}

// FetchFiles satisfies reviewcore.ForgeReader. When sinceSHA is empty it
// uses GitLab's changes API, which returns diffRefs needed to build
// positioned discussions. When sinceSHA is set it instead resolves the
// merge request's current head and diffs only sinceSHA..head via the
// repository compare API, so a synchronize/edited trigger reviews the
// incremental diff rather than the whole merge request again.
func (c *Client) FetchFiles(ctx context.Context, owner, repo string, number int, sinceSHA string) ([]reviewcore.RawFile, bool, error) {
	if sinceSHA != "" {
		files, err := c.fetchFilesSince(ctx, owner, repo, number, sinceSHA)
		if err != nil {
			return nil, false, err
		}
		return files, false, nil
	}

	mr, _, err := c.gl.MergeRequests.GetMergeRequestChanges(projectPath(owner, repo), number, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ProviderCall, err, "failed to fetch merge request changes")
	}

	var out []reviewcore.RawFile
	for _, f := range mr.Changes {
		out = append(out, reviewcore.RawFile{
			NewPath:   f.NewPath,
			OldPath:   f.OldPath,
			Status:    diffStatus(f),
			Additions: 0,
			Deletions: 0,
			Patch:     f.Diff,
		})
	}
	return out, false, nil
}

func diffStatus(f *gitlab.MergeRequestDiff) string {
	switch {
	case f.NewFile:
		return "added"
	case f.DeletedFile:
		return "removed"
	case f.RenamedFile:
		return "renamed"
	default:
		return "modified"
	}
}

// fetchFilesSince resolves the merge request's current head SHA and
// diffs it against sinceSHA via the repository compare API.
func (c *Client) fetchFilesSince(ctx context.Context, owner, repo string, number int, sinceSHA string) ([]reviewcore.RawFile, error) {
	mr, _, err := c.gl.MergeRequests.GetMergeRequest(projectPath(owner, repo), number, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ProviderCall, err, "failed to fetch merge request head for incremental diff")
	}
	cmp, _, err := c.gl.Repositories.Compare(projectPath(owner, repo), &gitlab.CompareOptions{
		From: gitlab.Ptr(sinceSHA),
		To:   gitlab.Ptr(mr.SHA),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ProviderCall, err, "failed to compare commits")
	}
	out := make([]reviewcore.RawFile, 0, len(cmp.Diffs))
	for _, d := range cmp.Diffs {
		out = append(out, reviewcore.RawFile{
			NewPath:   d.NewPath,
			OldPath:   d.OldPath,
			Status:    compareDiffStatus(d),
			Additions: 0,
			Deletions: 0,
			Patch:     d.Diff,
		})
	}
	return out, nil
}

func compareDiffStatus(d *gitlab.Diff) string {
	switch {
	case d.NewFile:
		return "added"
	case d.DeletedFile:
		return "removed"
	case d.RenamedFile:
		return "renamed"
	default:
		return "modified"
	}
}

// UpsertManagedComment satisfies reviewcore.ForgePublisher by scanning
// existing notes for a marker of the same kind before creating a new
// one.
func (c *Client) UpsertManagedComment(ctx context.Context, owner, repo string, number int, kind, digest, body string) error {
	existing, err := c.findManagedNote(ctx, owner, repo, number, kind)
	if err != nil {
		return err
	}
	if existing != nil {
		_, _, err := c.gl.Notes.UpdateMergeRequestNote(projectPath(owner, repo), number, existing.ID, &gitlab.UpdateMergeRequestNoteOptions{Body: gitlab.Ptr(body)}, gitlab.WithContext(ctx))
		if err != nil {
			return apperrors.Wrap(apperrors.PublishFailure, err, "failed to edit managed note")
		}
		return nil
	}

	_, _, err = c.gl.Notes.CreateMergeRequestNote(projectPath(owner, repo), number, &gitlab.CreateMergeRequestNoteOptions{Body: gitlab.Ptr(body)}, gitlab.WithContext(ctx))
	if err != nil {
		return apperrors.Wrap(apperrors.PublishFailure, err, "failed to create managed note")
	}
	return nil
}

func (c *Client) findManagedNote(ctx context.Context, owner, repo string, number int, kind string) (*gitlab.Note, error) {
	opts := &gitlab.ListMergeRequestNotesOptions{ListOptions: gitlab.ListOptions{PerPage: listPageSize}}
	for page := 0; page < commentScanPages; page++ {
		notes, resp, err := c.gl.Notes.ListMergeRequestNotes(projectPath(owner, repo), number, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ProviderCall, err, "failed to list merge request notes")
		}
		for _, note := range notes {
			if managedcomment.HasKind(note.Body, kind) {
				return note, nil
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return nil, nil
}

// PublishLineComment satisfies reviewcore.ForgePublisher, creating a
// positioned discussion anchored to the merge request's current diff
// refs. Exactly one of NewLine/OldLine is set, matching GitLab's
// positioned-note contract.
func (c *Client) PublishLineComment(ctx context.Context, owner, repo string, number int, file string, side string, line int, body string) error {
	mr, _, err := c.gl.MergeRequests.GetMergeRequest(projectPath(owner, repo), number, nil, gitlab.WithContext(ctx))
	if err != nil {
		return apperrors.Wrap(apperrors.ProviderCall, err, "failed to fetch merge request for discussion")
	}
	if mr.DiffRefs.BaseSha == "" || mr.DiffRefs.HeadSha == "" {
		return apperrors.New(apperrors.ProviderCall, "merge request has no diff refs yet")
	}

	position := &gitlab.PositionOptions{
		BaseSHA:      gitlab.Ptr(mr.DiffRefs.BaseSha),
		HeadSHA:      gitlab.Ptr(mr.DiffRefs.HeadSha),
		StartSHA:     gitlab.Ptr(mr.DiffRefs.StartSha),
		NewPath:      gitlab.Ptr(file),
		OldPath:      gitlab.Ptr(file),
		PositionType: gitlab.Ptr("text"),
	}
	if side == "old" {
		position.OldLine = gitlab.Ptr(line)
	} else {
		position.NewLine = gitlab.Ptr(line)
	}

	_, _, err = c.gl.Discussions.CreateMergeRequestDiscussion(projectPath(owner, repo), number, &gitlab.CreateMergeRequestDiscussionOptions{
		Body:     gitlab.Ptr(body),
		Position: position,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return apperrors.Wrap(apperrors.PublishFailure, err, "failed to create positioned discussion")
	}
	return nil
}

// SetLabels satisfies reviewcore.ForgePublisher.
func (c *Client) SetLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	labelOpts := gitlab.LabelOptions(labels)
	_, _, err := c.gl.MergeRequests.UpdateMergeRequest(projectPath(owner, repo), number, &gitlab.UpdateMergeRequestOptions{Labels: &labelOpts}, gitlab.WithContext(ctx))
	if err != nil {
		return apperrors.Wrap(apperrors.PublishFailure, err, "failed to set labels")
	}
	return nil
}

// FetchFile satisfies policy.FileFetcher: it reads path at ref and
// reports ok=false (no error) when the file simply does not exist,
// distinguishing a missing review-policy file from a transport failure.
func (c *Client) FetchFile(ctx context.Context, owner, repo, ref, path string) ([]byte, bool, error) {
	file, resp, err := c.gl.RepositoryFiles.GetRawFile(projectPath(owner, repo), path, &gitlab.GetRawFileOptions{Ref: gitlab.Ptr(ref)}, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return nil, false, nil
		}
		return nil, false, apperrors.Wrap(apperrors.ProviderCall, err, fmt.Sprintf("failed to read %s@%s", path, ref))
	}
	return file, true, nil
}

// CommitStatuses lists pipeline/job statuses for ref, used to assemble
// the CICheck list the prompt builder surfaces.
func (c *Client) CommitStatuses(ctx context.Context, owner, repo, ref string) ([]*gitlab.CommitStatus, error) {
	var all []*gitlab.CommitStatus
	opts := &gitlab.GetCommitStatusesOptions{ListOptions: gitlab.ListOptions{PerPage: listPageSize}}
	for page := 0; page < maxListPages; page++ {
		statuses, resp, err := c.gl.Commits.GetCommitStatuses(projectPath(owner, repo), ref, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ProviderCall, err, "failed to list commit statuses")
		}
		all = append(all, statuses...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// ParseMRURL parses a GitLab merge request URL into its owner, repo,
// and number, mirroring the teacher's ParsePRURL helper.
func ParseMRURL(rawURL string) (owner, repo string, number int, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil {
		return "", "", 0, apperrors.Wrap(apperrors.Internal, parseErr, "invalid GitLab MR URL")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/-/merge_requests/")
	if len(parts) != 2 {
		return "", "", 0, apperrors.New(apperrors.Internal, "invalid GitLab MR URL format")
	}
	segments := strings.Split(parts[0], "/")
	if len(segments) < 2 {
		return "", "", 0, apperrors.New(apperrors.Internal, "invalid GitLab MR URL project path")
	}
	repo = segments[len(segments)-1]
	owner = strings.Join(segments[:len(segments)-1], "/")
	if _, err := fmt.Sscanf(parts[1], "%d", &number); err != nil {
		return "", "", 0, apperrors.Wrap(apperrors.Internal, err, "invalid GitLab MR number")
	}
	return owner, repo, number, nil
}

var _ reviewcore.ForgeReader = (*Client)(nil)
var _ reviewcore.ForgePublisher = (*Client)(nil)
var _ policy.FileFetcher = (*Client)(nil)
