package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gitlabsdk "github.com/xanzy/go-gitlab"
)

func TestProjectPathJoinsOwnerAndRepo(t *testing.T) {
	assert.Equal(t, "acme/demo", projectPath("acme", "demo"))
}

func TestAuthorUsernameHandlesNilAuthor(t *testing.T) {
	assert.Equal(t, "", authorUsername(&gitlabsdk.MergeRequest{}))
	assert.Equal(t, "alice", authorUsername(&gitlabsdk.MergeRequest{Author: &gitlabsdk.BasicUser{Username: "alice"}}))
}

func TestDiffStatusVariants(t *testing.T) {
	assert.Equal(t, "added", diffStatus(&gitlabsdk.MergeRequestDiff{NewFile: true}))
	assert.Equal(t, "removed", diffStatus(&gitlabsdk.MergeRequestDiff{DeletedFile: true}))
	assert.Equal(t, "renamed", diffStatus(&gitlabsdk.MergeRequestDiff{RenamedFile: true}))
	assert.Equal(t, "modified", diffStatus(&gitlabsdk.MergeRequestDiff{}))
}

func TestParseMRURLExtractsOwnerRepoAndNumber(t *testing.T) {
	owner, repo, number, err := ParseMRURL("https://gitlab.com/group/subgroup/project/-/merge_requests/42")
	require.NoError(t, err)
	assert.Equal(t, "group/subgroup", owner)
	assert.Equal(t, "project", repo)
	assert.Equal(t, 42, number)
}

func TestParseMRURLRejectsMalformedPath(t *testing.T) {
	_, _, _, err := ParseMRURL("https://gitlab.com/group/project")
	assert.Error(t, err)
}

func TestFetchFilesUsesCompareWhenSinceSHASet(t *testing.T) {
	var sawCompare bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/v4/projects/acme%2Fdemo/merge_requests/7":
			fmt.Fprint(w, `{"sha":"headsha123"}`)
		case r.URL.Path == "/api/v4/projects/acme%2Fdemo/repository/compare":
			sawCompare = true
			assert.Equal(t, "oldsha", r.URL.Query().Get("from"))
			assert.Equal(t, "headsha123", r.URL.Query().Get("to"))
			fmt.Fprint(w, `{"diffs":[{"new_path":"a.go","old_path":"a.go","diff":"@@ -1 +1 @@"}]}`)
		default:
			t.Errorf("unexpected request path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	gl, err := gitlabsdk.NewClient("token", gitlabsdk.WithBaseURL(server.URL))
	require.NoError(t, err)
	client := &Client{gl: gl}

	files, truncated, err := client.FetchFiles(context.Background(), "acme", "demo", 7, "oldsha")
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, files, 1)
	assert.Equal(t, "a.go", files[0].NewPath)
	assert.Equal(t, "modified", files[0].Status)
	assert.True(t, sawCompare, "the incremental path must hit the repository compare endpoint")
}

func TestCompareDiffStatusVariants(t *testing.T) {
	assert.Equal(t, "added", compareDiffStatus(&gitlabsdk.Diff{NewFile: true}))
	assert.Equal(t, "removed", compareDiffStatus(&gitlabsdk.Diff{DeletedFile: true}))
	assert.Equal(t, "renamed", compareDiffStatus(&gitlabsdk.Diff{RenamedFile: true}))
	assert.Equal(t, "modified", compareDiffStatus(&gitlabsdk.Diff{}))
}
