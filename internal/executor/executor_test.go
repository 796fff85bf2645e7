package executor_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-action-flow/internal/control"
	"github.com/ramiqadoumi/go-action-flow/internal/control/controltest"
	"github.com/ramiqadoumi/go-action-flow/internal/domain"
	"github.com/ramiqadoumi/go-action-flow/internal/executor"
	"github.com/ramiqadoumi/go-action-flow/internal/selector"
)

const catalogYAML = `
platforms:
  x:
    dm_url: "https://x.test/dm/{{handle}}"
    input: ['#composer', '#composer-v2']
    submit: ['#send']
    rendered: ['.msg']
    rate_limit_markers: ['try again later']
    rejection_markers: ['action blocked']
`

const content = "Great thread, thanks for sharing the benchmark numbers"

var (
	composerAt = controltest.Point{X: 10, Y: 10}
	sendAt     = controltest.Point{X: 100, Y: 200}
)

func testConfig(artifacts string) executor.Config {
	return executor.Config{
		StageAttempts:   2,
		StageBaseDelay:  time.Millisecond,
		StageMaxDelay:   2 * time.Millisecond,
		PollInterval:    time.Millisecond,
		NavigateTimeout: 50 * time.Millisecond,
		LocateTimeout:   20 * time.Millisecond,
		InputTimeout:    20 * time.Millisecond,
		SubmitTimeout:   20 * time.Millisecond,
		SettleTimeout:   20 * time.Millisecond,
		SnippetRunes:    24,
		ArtifactDir:     artifacts,
	}
}

func newExecutor(t *testing.T, s *controltest.Surface, artifacts string) *executor.Executor {
	t.Helper()
	cat, err := selector.Parse([]byte(catalogYAML))
	require.NoError(t, err)
	return executor.New(s, cat,
		executor.WithConfig(testConfig(artifacts)),
		executor.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func newTask() *domain.Task {
	return &domain.Task{
		ID:       "task-1",
		Target:   domain.Target{Platform: "x", Destination: "https://x.test/status/1", Kind: domain.KindComment},
		Content:  content,
		Status:   domain.StatusPosting,
		Attempts: 1,
	}
}

// newSurface returns a composer whose submit control enables once the
// content is set, and which clears after the send click.
func newSurface(composer string) *controltest.Surface {
	s := controltest.New()
	s.Put(composer, control.Element{X: composerAt.X, Y: composerAt.Y, Enabled: true})
	s.Put("#send", control.Element{X: sendAt.X, Y: sendAt.Y})
	s.OnClick = func(s *controltest.Surface, p controltest.Point) {
		if p == sendAt {
			s.Elements[composer].Text = ""
		}
	}
	return s
}

func acceptInput(s *controltest.Surface, selector, text string) {
	s.Elements[selector].Text = text
	s.Elements["#send"].Enabled = true
}

func TestExecute_DirectInsertSucceeds(t *testing.T) {
	s := newSurface("#composer")
	s.OnInsert = acceptInput

	out, err := newExecutor(t, s, "").Execute(context.Background(), newTask())
	require.NoError(t, err)

	assert.Equal(t, "https://x.test/status/1", out.Strategies["navigate"])
	assert.Equal(t, "#composer", out.Strategies["locate"])
	assert.Equal(t, "direct_insert", out.Strategies["input"])
	assert.Equal(t, "#send", out.Strategies["submit"])

	navigated, keystrokes, inserts, _, clicks := s.Snapshot()
	assert.Equal(t, []string{"https://x.test/status/1"}, navigated)
	assert.Empty(t, keystrokes)
	assert.Equal(t, []string{content}, inserts)
	assert.Equal(t, []controltest.Point{sendAt}, clicks)
}

func TestExecute_CosmeticInsertFallsBackToKeystrokes(t *testing.T) {
	s := newSurface("#composer")
	// Text appears but the destination never enables submit.
	s.OnInsert = func(s *controltest.Surface, selector, text string) {
		s.Elements[selector].Text = text
	}
	s.OnKeystrokes = func(s *controltest.Surface, text string) {
		acceptInput(s, "#composer", text)
	}

	out, err := newExecutor(t, s, "").Execute(context.Background(), newTask())
	require.NoError(t, err)
	assert.Equal(t, "keystrokes", out.Strategies["input"])

	_, keystrokes, _, pastes, clicks := s.Snapshot()
	assert.Equal(t, []string{content}, keystrokes)
	assert.Empty(t, pastes, "clipboard paste is only tried after keystrokes")
	assert.Equal(t, []controltest.Point{composerAt, sendAt}, clicks)
}

func TestExecute_ClipboardPasteIsLastResort(t *testing.T) {
	s := newSurface("#composer")
	s.OnPaste = acceptInput

	out, err := newExecutor(t, s, "").Execute(context.Background(), newTask())
	require.NoError(t, err)
	assert.Equal(t, "clipboard_paste", out.Strategies["input"])
}

func TestExecute_StalePrimarySelectorUsesFallback(t *testing.T) {
	s := newSurface("#composer-v2")
	s.OnInsert = acceptInput

	out, err := newExecutor(t, s, "").Execute(context.Background(), newTask())
	require.NoError(t, err)
	assert.Equal(t, "#composer-v2", out.Strategies["locate"])
}

func TestExecute_NoInputControl_TransientNotFoundWithArtifact(t *testing.T) {
	dir := t.TempDir()
	s := controltest.New()
	s.Put("#send", control.Element{Enabled: true})

	_, err := newExecutor(t, s, dir).Execute(context.Background(), newTask())

	var ae *domain.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, domain.KindTransientNotFound, ae.Kind)
	assert.Equal(t, domain.StageLocate, ae.Stage)
	require.NotEmpty(t, ae.Artifact)
	assert.FileExists(t, ae.Artifact)
	assert.Contains(t, ae.Artifact, "task-1-1-locate.png")
	assert.Equal(t, 1, s.Shots, "one screenshot per failed stage, not per stage retry")
}

func TestExecute_InputNeverAccepted(t *testing.T) {
	s := newSurface("#composer")

	_, err := newExecutor(t, s, "").Execute(context.Background(), newTask())

	var ae *domain.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, domain.KindTransientNotFound, ae.Kind)
	assert.Equal(t, domain.StageInput, ae.Stage)

	_, keystrokes, inserts, pastes, _ := s.Snapshot()
	assert.Len(t, inserts, 2, "the whole chain is retried once per stage attempt")
	assert.Len(t, keystrokes, 2)
	assert.Len(t, pastes, 2)
}

func TestExecute_RateLimitMessageAfterSubmit(t *testing.T) {
	s := newSurface("#composer")
	s.OnInsert = acceptInput
	s.OnClick = func(s *controltest.Surface, p controltest.Point) {
		if p == sendAt {
			s.PageText = "Slow down. Please try   again later."
		}
	}

	_, err := newExecutor(t, s, "").Execute(context.Background(), newTask())

	var ae *domain.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, domain.KindRateLimited, ae.Kind)
	assert.Equal(t, domain.StageSubmit, ae.Stage)

	_, _, _, _, clicks := s.Snapshot()
	assert.Len(t, clicks, 1, "a rate-limited submit is never clicked twice")
}

func TestExecute_RejectionMessageAfterSubmit(t *testing.T) {
	s := newSurface("#composer")
	s.OnInsert = acceptInput
	s.OnClick = func(s *controltest.Surface, p controltest.Point) {
		s.PageText = "Action Blocked"
	}

	_, err := newExecutor(t, s, "").Execute(context.Background(), newTask())

	var ae *domain.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, domain.KindRejected, ae.Kind)
}

func TestExecute_ChannelUnavailable(t *testing.T) {
	dir := t.TempDir()
	s := newSurface("#composer")
	s.Err = fmt.Errorf("%w: websocket closed", control.ErrUnavailable)

	_, err := newExecutor(t, s, dir).Execute(context.Background(), newTask())

	var ae *domain.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, domain.KindChannelUnavailable, ae.Kind)
	assert.Equal(t, domain.StageNavigate, ae.Stage)
	assert.Empty(t, ae.Artifact)
	assert.Equal(t, 0, s.Shots)
}

// navigatingSurface loses its script context for the first few probes, as
// a page does while a client-side navigation settles.
type navigatingSurface struct {
	*controltest.Surface

	mu   sync.Mutex
	lost int
}

func (n *navigatingSurface) Evaluate(ctx context.Context, script string) (string, error) {
	n.mu.Lock()
	if n.lost > 0 {
		n.lost--
		n.mu.Unlock()
		return "", fmt.Errorf("%w: Runtime.evaluate: Execution context was destroyed", control.ErrContextLost)
	}
	n.mu.Unlock()
	return n.Surface.Evaluate(ctx, script)
}

func TestExecute_LostContextDuringNavigationIsRetried(t *testing.T) {
	s := newSurface("#composer")
	s.OnInsert = acceptInput
	ch := &navigatingSurface{Surface: s, lost: 3}

	cat, err := selector.Parse([]byte(catalogYAML))
	require.NoError(t, err)
	exec := executor.New(ch, cat,
		executor.WithConfig(testConfig("")),
		executor.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	out, err := exec.Execute(context.Background(), newTask())
	require.NoError(t, err)
	assert.Equal(t, "#composer", out.Strategies["locate"])
	assert.Equal(t, "direct_insert", out.Strategies["input"])
}

func TestExecute_MalformedProbeFailsClosed(t *testing.T) {
	s := newSurface("#composer")
	s.Raw = "<html>not json</html>"

	_, err := newExecutor(t, s, "").Execute(context.Background(), newTask())

	var ae *domain.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, domain.KindChannelUnavailable, ae.Kind)
	assert.Equal(t, domain.StageLocate, ae.Stage)
	assert.ErrorIs(t, err, control.ErrMalformed)
}

func TestExecute_DirectMessageExpandsHandle(t *testing.T) {
	s := newSurface("#composer")
	s.OnInsert = acceptInput
	task := newTask()
	task.Target = domain.Target{Platform: "x", Destination: "@jane", Kind: domain.KindDirectMessage}

	_, err := newExecutor(t, s, "").Execute(context.Background(), task)
	require.NoError(t, err)

	navigated, _, _, _, _ := s.Snapshot()
	assert.Equal(t, []string{"https://x.test/dm/jane"}, navigated)
}

func TestExecute_UnknownPlatformRejected(t *testing.T) {
	task := newTask()
	task.Target.Platform = "myspace"

	_, err := newExecutor(t, controltest.New(), "").Execute(context.Background(), task)

	var ae *domain.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, domain.KindRejected, ae.Kind)
}

func TestExecute_ArtifactDirIsCreated(t *testing.T) {
	dir := t.TempDir() + "/nested/artifacts"
	s := controltest.New()

	_, err := newExecutor(t, s, dir).Execute(context.Background(), newTask())
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
