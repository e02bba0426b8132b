package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamci/streamci/internal/event"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPipelineRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.GetPipeline(ctx, 42, ".ci/build.yml")
	assert.ErrorIs(t, err, ErrNotFound)

	p := &Pipeline{
		GitProjectID: 42,
		FilePath:     ".ci/build.yml",
		DisplayName:  "build",
		Enabled:      true,
		Fingerprint:  "blake3:abc",
	}
	require.NoError(t, s.SavePipeline(ctx, p))

	got, err := s.GetPipeline(ctx, 42, ".ci/build.yml")
	require.NoError(t, err)
	assert.False(t, got.Bound())
	assert.Equal(t, "build", got.DisplayName)
	assert.True(t, got.Enabled)

	// upsert binds the engine pipeline
	p.PipelineID = "p-123"
	p.LatestBuildID = "b-1"
	require.NoError(t, s.SavePipeline(ctx, p))

	got, err = s.GetPipeline(ctx, 42, ".ci/build.yml")
	require.NoError(t, err)
	assert.True(t, got.Bound())
	assert.Equal(t, "p-123", got.PipelineID)
	assert.Equal(t, "b-1", got.LatestBuildID)

	all, err := s.ListPipelines(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEventRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mrID := int64(7)
	ev := &event.RequestEvent{
		ID:             uuid.NewString(),
		GitProjectID:   42,
		ObjectKind:     event.KindMergeRequest,
		Branch:         "feature/x",
		CommitID:       "aabbccdd",
		UserID:         "carol",
		MergeRequestID: &mrID,
		TargetBranch:   "main",
		SourceBranch:   "feature/x",
		ChangedFiles:   []string{"src/a.go"},
		RawPayload:     `{"object_kind":"merge_request"}`,
	}
	require.NoError(t, s.SaveEvent(ctx, ev))

	got, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, event.KindMergeRequest, got.ObjectKind)
	require.NotNil(t, got.MergeRequestID)
	assert.Equal(t, int64(7), *got.MergeRequestID)
	assert.Equal(t, []string{"src/a.go"}, got.ChangedFiles)

	_, err = s.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBuildLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ev := event.Manual(42, "dave", "main")
	ev.ID = uuid.NewString()
	require.NoError(t, s.SaveEvent(ctx, ev))

	b := &EventBuild{
		ID:             uuid.NewString(),
		EventID:        ev.ID,
		FilePath:       ".ci/build.yml",
		OriginYAML:     "steps:\n  - run: &r make\n",
		NormalizedYAML: "steps:\n  - run: make\n",
		Branch:         "main",
		TriggerUser:    "dave",
	}
	require.NoError(t, s.CreateBuild(ctx, b))

	got, err := s.GetBuild(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, BuildPending, got.Status)
	assert.Empty(t, got.BuildID)
	assert.Equal(t, b.OriginYAML, got.OriginYAML)
	assert.Equal(t, b.NormalizedYAML, got.NormalizedYAML)
	assert.Equal(t, "main", got.Branch)
	assert.Equal(t, "dave", got.TriggerUser)

	byEvent, err := s.ListBuildsByEvent(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, byEvent, 1)
	assert.Equal(t, b.NormalizedYAML, byEvent[0].NormalizedYAML)

	require.NoError(t, s.BindBuild(ctx, b.ID, "p-123", "b-9"))
	got, err = s.GetBuild(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, BuildRunning, got.Status)
	assert.Equal(t, "b-9", got.BuildID)

	assert.ErrorIs(t, s.BindBuild(ctx, "missing", "p", "b"), ErrNotFound)

	require.NoError(t, s.DeleteBuild(ctx, b.ID))
	_, err = s.GetBuild(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotBuildRecords(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ev := event.Manual(42, "dave", "main")
	ev.ID = uuid.NewString()
	require.NoError(t, s.SaveEvent(ctx, ev))

	nb := &EventNotBuild{
		ID:             uuid.NewString(),
		EventID:        ev.ID,
		FilePath:       ".ci/build.yml",
		Reason:         ReasonTriggerNotMatch,
		Detail:         "branch main matched no push rule",
		OriginYAML:     "steps:\n  - run: make\n",
		NormalizedYAML: "steps:\n  - run: make\n",
		Branch:         "main",
		TriggerUser:    "dave",
	}
	require.NoError(t, s.SaveNotBuild(ctx, nb))

	list, err := s.ListNotBuildsByEvent(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ReasonTriggerNotMatch, list[0].Reason)
	assert.Equal(t, ".ci/build.yml", list[0].FilePath)
	assert.Equal(t, nb.OriginYAML, list[0].OriginYAML)
	assert.Equal(t, "main", list[0].Branch)
	assert.Equal(t, "dave", list[0].TriggerUser)
}
