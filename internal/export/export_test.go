package export

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/streamci/streamci/internal/compiler"
	"github.com/streamci/streamci/internal/event"
	"github.com/streamci/streamci/internal/manifest"
	"github.com/streamci/streamci/internal/model"
)

type nopMarketplace struct{}

func (nopMarketplace) InstallAtom(context.Context, string, string, string) error { return nil }

type staticTokens struct{}

func (staticTokens) GetToken(context.Context, int64) (string, error) { return "tok", nil }

func compileDoc(t *testing.T, doc string) *model.Model {
	t.Helper()
	m, err := manifest.Normalize(doc)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	c := compiler.New(nopMarketplace{}, staticTokens{})
	out, err := c.Compile(context.Background(), compiler.Input{
		Manifest:    m,
		Event:       event.Manual(42, "alice", "main"),
		ProjectCode: "git_42",
		RepoURL:     "https://git.example.com/org/repo.git",
		UserID:      "alice",
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return out
}

func testMeta() Meta {
	return Meta{
		ProjectID:    "git_42",
		PipelineID:   "p-1",
		PipelineName: "demo",
		Time:         time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestExportRoundTrip(t *testing.T) {
	const doc = `
version: v2.0
name: demo
stages:
  - name: build
    jobs:
      build:
        runs-on:
          pool-name: docker
          container: golang:1.25
        steps:
          - checkout: self
          - run: make build
      verify:
        runs-on: macos
        steps:
          - run: xcodebuild test
finally:
  - name: cleanup
    jobs:
      clean:
        runs-on: agentless
        steps:
          - uses: notify@2.0.0
            with:
              channel: builds
`
	first := compileDoc(t, doc)
	text, err := Export(first, testMeta())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	second := compileDoc(t, text)
	if len(second.Stages) != len(first.Stages) {
		t.Fatalf("stage count %d != %d\nexported:\n%s", len(second.Stages), len(first.Stages), text)
	}
	for i := range first.Stages {
		a, b := first.Stages[i], second.Stages[i]
		if len(a.Containers) != len(b.Containers) {
			t.Fatalf("stage %d container count %d != %d", i, len(b.Containers), len(a.Containers))
		}
		if a.Finally != b.Finally {
			t.Errorf("stage %d finally %v != %v", i, b.Finally, a.Finally)
		}
		for j := range a.Containers {
			ca, cb := a.Containers[j], b.Containers[j]
			if ca.Dispatch.Type != cb.Dispatch.Type {
				t.Errorf("stage %d job %d dispatch %s != %s", i, j, cb.Dispatch.Type, ca.Dispatch.Type)
			}
			if len(ca.Elements) != len(cb.Elements) {
				t.Errorf("stage %d job %d element count %d != %d", i, j, len(cb.Elements), len(ca.Elements))
			}
		}
	}
}

func TestExportSequentialStepIDs(t *testing.T) {
	m := compileDoc(t, `
version: v2.0
stages:
  - jobs:
      a:
        steps:
          - run: one
          - run: two
      b:
        steps:
          - run: three
`)
	text, err := Export(m, testMeta())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	for _, id := range []string{"id: step-1", "id: step-2", "id: step-3"} {
		if !strings.Contains(text, id) {
			t.Errorf("exported yaml missing %q:\n%s", id, text)
		}
	}
}

func TestExportOutputReferenceRewrite(t *testing.T) {
	m := compileDoc(t, `
version: v2.0
steps:
  - uses: builder@1.0.0
    outputs: [artifact]
  - run: upload ${artifact} to ${bucket}
`)
	text, err := Export(m, testMeta())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.Contains(text, "steps.step-1.outputs.artifact") {
		t.Errorf("declared output not rewritten to step reference:\n%s", text)
	}
	if !strings.Contains(text, "variables.bucket") {
		t.Errorf("unknown reference not rewritten to variable form:\n%s", text)
	}
}

func TestExportDuplicateOutputIsError(t *testing.T) {
	m := compileDoc(t, `
version: v2.0
stages:
  - jobs:
      a:
        steps:
          - uses: builder@1.0.0
            outputs: [artifact]
  - jobs:
      b:
        steps:
          - uses: packer@1.0.0
            outputs: [artifact]
`)
	_, err := Export(m, testMeta())
	if err == nil {
		t.Fatal("expected duplicate output error")
	}
	if !strings.Contains(err.Error(), "artifact") {
		t.Errorf("error should name the output: %v", err)
	}
}

func TestExportIdempotent(t *testing.T) {
	m := compileDoc(t, `
version: v2.0
steps:
  - uses: builder@1.0.0
    outputs: [artifact]
  - run: upload ${artifact}
`)
	first, err := Export(m, testMeta())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	second, err := Export(m, testMeta())
	if err != nil {
		t.Fatalf("Export (second): %v", err)
	}
	if first != second {
		t.Error("exporting the same model twice must produce identical text")
	}
}

func TestExportPlaceholderForUnsupportedElement(t *testing.T) {
	m := &model.Model{
		Name: "legacy",
		Stages: []model.Stage{
			{ID: "stage-trigger", Containers: []model.Container{{
				Dispatch: model.Dispatch{Type: model.DispatchAgentless},
				Elements: []model.Element{{Kind: model.ElementManualTrigger}},
			}}},
			{ID: "stage-one", Containers: []model.Container{{
				ID:       "job1",
				Dispatch: model.Dispatch{Type: model.DispatchDocker, Image: "ubuntu:20.04"},
				Elements: []model.Element{{
					ID:   "old",
					Name: "legacy reporter",
					Kind: model.ElementKind("oldReportPlugin"),
				}},
			}}},
		},
	}
	text, err := Export(m, testMeta())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.Contains(text, "replace this placeholder manually") {
		t.Errorf("placeholder comment missing:\n%s", text)
	}

	// the document must still normalize
	if _, err := manifest.Normalize(text); err != nil {
		t.Errorf("exported placeholder yaml does not parse: %v", err)
	}
}

func TestExportBannerAndTimer(t *testing.T) {
	m := compileDoc(t, `
version: v2.0
triggerOn:
  schedules:
    cron: "0 2 * * *"
steps:
  - run: make nightly
`)
	text, err := Export(m, testMeta())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	for _, want := range []string{
		"# projectId: git_42",
		"# pipelineId: p-1",
		"# pipelineName: demo",
		"# exportTime: 2026-08-01T12:00:00Z",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("banner missing %q:\n%s", want, text)
		}
	}
	if !strings.Contains(text, "0 2 * * *") {
		t.Errorf("schedule not exported:\n%s", text)
	}
	if strings.Contains(text, "manualTrigger") {
		t.Errorf("trigger stage must be skipped:\n%s", text)
	}
}
