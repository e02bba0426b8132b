package inspect

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamci/streamci/internal/event"
	"github.com/streamci/streamci/internal/store"
)

func seedStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.SaveEvent(ctx, &event.RequestEvent{
		ID:           "ev-1",
		GitProjectID: 42,
		ObjectKind:   event.KindPush,
		Branch:       "main",
		CommitID:     "deadbeefcafe",
		UserID:       "alice",
		CreatedAt:    time.Now().UTC(),
	}))

	require.NoError(t, st.CreateBuild(ctx, &store.EventBuild{
		ID: "eb-1", EventID: "ev-1", FilePath: ".ci/build.yml",
	}))
	require.NoError(t, st.BindBuild(ctx, "eb-1", "p-7", "b-9"))

	require.NoError(t, st.SaveNotBuild(ctx, &store.EventNotBuild{
		ID: "nb-1", EventID: "ev-1", FilePath: ".ci/docs.yml",
		Reason: store.ReasonTriggerNotMatch, Detail: "branch main not matched",
	}))
	return st
}

func TestBuildReport(t *testing.T) {
	st := seedStore(t)

	out, err := BuildReport(context.Background(), st, "ev-1")
	require.NoError(t, err)

	assert.Contains(t, out, "Event ID   : ev-1")
	assert.Contains(t, out, "Kind       : push")
	assert.Contains(t, out, "BUILD .ci/build.yml")
	assert.Contains(t, out, "build    : b-9")
	assert.Contains(t, out, "SKIP  .ci/docs.yml")
	assert.Contains(t, out, "reason   : TRIGGER_NOT_MATCH")
}

func TestBuildJSONReport(t *testing.T) {
	st := seedStore(t)

	out, err := BuildJSONReport(context.Background(), st, "ev-1")
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "ev-1", report.EventID)
	require.Len(t, report.Builds, 1)
	assert.Equal(t, "p-7", report.Builds[0].PipelineID)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, store.ReasonTriggerNotMatch, report.Skipped[0].Reason)
}

func TestReportUnknownEvent(t *testing.T) {
	st := seedStore(t)

	_, err := BuildReport(context.Background(), st, "ev-missing")
	require.Error(t, err)
}

func TestReportRequiresEventID(t *testing.T) {
	st := seedStore(t)

	_, err := BuildReport(context.Background(), st, "  ")
	require.Error(t, err)
}
