package render

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/runwatch/internal/progress"
	"github.com/JakeFAU/runwatch/internal/runs"
)

func TestProgressShowsEveryStep(t *testing.T) {
	t.Parallel()

	v := progress.DefaultPipeline().Evaluate(progress.Snapshot{
		RunID:   42,
		Status:  runs.StatusRunning,
		Elapsed: 10 * time.Second,
	})
	out := Progress(v, "Protein folding")

	require.Contains(t, out, "Run #42")
	require.Contains(t, out, "Protein folding")
	for _, label := range []string{"Retrieve", "Extract", "Synthesize", "Gap Analysis", "Hypotheses"} {
		require.Contains(t, out, label)
	}
	require.Contains(t, out, "Current step: Synthesize")
	require.Contains(t, out, "10s elapsed")
	require.Equal(t, 4, strings.Count(out, "│"), "one connector between each pair of steps")
}

func TestProgressTerminalHidesCurrentStep(t *testing.T) {
	t.Parallel()

	v := progress.DefaultPipeline().Evaluate(progress.Snapshot{RunID: 1, Status: runs.StatusCompleted})
	out := Progress(v, "")
	require.NotContains(t, out, "Current step")
	require.Contains(t, out, "100%")
	require.Contains(t, out, "completed")
}

func TestBarClamps(t *testing.T) {
	t.Parallel()

	require.Contains(t, Bar(-5), "  0%")
	require.Contains(t, Bar(45), " 45%")
	require.Contains(t, Bar(250), "100%")
	require.Equal(t, barWidth, strings.Count(Bar(45), "█")+strings.Count(Bar(45), "░"))
}

func TestArtifactsRendersByKind(t *testing.T) {
	t.Parallel()

	arts := []runs.Artifact{
		{ID: "1", Kind: "gaps", Content: "No benchmarks\n\nFew replications"},
		{ID: "2", Kind: "hypotheses", Content: `[{"title":"H1","rationale":"because","validation":"ablate"}]`},
	}
	out := Artifacts("gaps", arts)
	require.Contains(t, out, "Gaps")
	require.Contains(t, out, "No benchmarks")
	require.Contains(t, out, "Few replications")
	require.Equal(t, 2, strings.Count(out, "•"), "blank gap lines are skipped")

	out = Artifacts("hypotheses", arts)
	require.Contains(t, out, "H1")
	require.Contains(t, out, "Rationale:")
	require.Contains(t, out, "because")
	require.Contains(t, out, "Validation:")
	require.Contains(t, out, "ablate")

	require.Contains(t, Artifacts("synthesis", arts), "no synthesis artifacts yet")
}

func TestRunsTable(t *testing.T) {
	t.Parallel()

	out := RunsTable([]runs.Run{{ID: 3, Topic: "Graph nets", Status: runs.StatusCreated}})
	require.Contains(t, out, "TOPIC")
	require.Contains(t, out, "Graph nets")
	require.Contains(t, out, "created")
}

func TestStatusBadgeAndError(t *testing.T) {
	t.Parallel()

	require.Contains(t, StatusBadge(""), "loading")
	require.Contains(t, StatusBadge(runs.Status("queued")), "queued")
	require.Contains(t, Error(errors.New("boom")), "boom")
}
