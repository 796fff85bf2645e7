package selector_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-action-flow/internal/control"
	"github.com/ramiqadoumi/go-action-flow/internal/control/controltest"
	"github.com/ramiqadoumi/go-action-flow/internal/selector"
)

func TestDefault_HasBuiltInPlatforms(t *testing.T) {
	c, err := selector.Default()
	require.NoError(t, err)
	for _, name := range []string{"x", "linkedin", "instagram"} {
		p, ok := c.Platform(name)
		require.True(t, ok, "missing platform %s", name)
		assert.NotEmpty(t, p.Candidates(selector.RoleInput))
		assert.NotEmpty(t, p.Candidates(selector.RoleSubmit))
		assert.NotEmpty(t, p.Candidates(selector.RoleRendered))
	}
}

func TestParse_RejectsPlatformWithoutSubmit(t *testing.T) {
	_, err := selector.Parse([]byte("platforms:\n  foo:\n    input: ['textarea']\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "foo")
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
platforms:
  x:
    input: ['#new-input']
    submit: ['#new-submit']
  mastodon:
    input: ['textarea.autosuggest-textarea__textarea']
    submit: ['button.button--block']
`), 0o644))

	c, err := selector.Load(path)
	require.NoError(t, err)

	x, _ := c.Platform("x")
	assert.Equal(t, []string{"#new-input"}, x.Input)
	_, ok := c.Platform("mastodon")
	assert.True(t, ok)
	_, ok = c.Platform("linkedin")
	assert.True(t, ok, "defaults not in the file are kept")
}

func TestDestinationURL(t *testing.T) {
	p := selector.Platform{DMURL: "https://x.com/messages/{{handle}}"}

	u, err := p.DestinationURL("https://x.com/a/status/1", false)
	require.NoError(t, err)
	assert.Equal(t, "https://x.com/a/status/1", u)

	u, err = p.DestinationURL("@jane doe", true)
	require.NoError(t, err)
	assert.Equal(t, "https://x.com/messages/jane%20doe", u)

	_, err = p.DestinationURL("jane", false)
	require.Error(t, err, "comments need a URL")

	_, err = selector.Platform{}.DestinationURL("jane", true)
	require.Error(t, err, "handles need a dm_url template")
}

func TestResolveOnce_FirstResolvingCandidateWins(t *testing.T) {
	s := controltest.New()
	s.Put("#fallback", control.Element{X: 5, Y: 6, Enabled: true})
	s.Put("#later", control.Element{X: 1, Y: 1})

	res, err := selector.ResolveOnce(context.Background(), s, []string{"#stale", "#fallback", "#later"})
	require.NoError(t, err)
	assert.Equal(t, "#fallback", res.Selector)
	assert.Equal(t, 1, res.Index)
	assert.True(t, res.Stale())
	assert.Equal(t, 5.0, res.Element.X)
}

func TestResolveOnce_NoneResolve(t *testing.T) {
	s := controltest.New()
	_, err := selector.ResolveOnce(context.Background(), s, []string{"#a", "#b"})
	require.ErrorIs(t, err, selector.ErrNotResolved)
}

func TestResolveOnce_ChannelErrorAborts(t *testing.T) {
	s := controltest.New()
	s.Err = control.ErrUnavailable
	_, err := selector.ResolveOnce(context.Background(), s, []string{"#a", "#b"})
	require.ErrorIs(t, err, control.ErrUnavailable)
	assert.Equal(t, 1, s.Evaluated, "must not keep probing a dead channel")
}

func TestResolveOnce_MalformedOutputFailsClosed(t *testing.T) {
	s := controltest.New()
	s.Raw = "undefined"
	_, err := selector.ResolveOnce(context.Background(), s, []string{"#a"})
	require.ErrorIs(t, err, control.ErrMalformed)
}

func TestResolver_Await_WaitsForAcceptance(t *testing.T) {
	s := controltest.New()
	s.Put("#submit", control.Element{Enabled: false})

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Put("#submit", control.Element{Enabled: true})
	}()

	r := selector.Resolver{Interval: 5 * time.Millisecond, Timeout: time.Second}
	res, err := r.Await(context.Background(), s, []string{"#submit"}, func(el control.Element) bool { return el.Enabled })
	require.NoError(t, err)
	assert.True(t, res.Element.Enabled)
}

func TestResolver_Await_OutlastsLostContext(t *testing.T) {
	s := controltest.New()
	s.SetErr(fmt.Errorf("%w: Runtime.evaluate: Execution context was destroyed", control.ErrContextLost))

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Put("#reply", control.Element{Enabled: true})
		s.SetErr(nil)
	}()

	r := selector.Resolver{Interval: 5 * time.Millisecond, Timeout: time.Second}
	res, err := r.Await(context.Background(), s, []string{"#reply"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "#reply", res.Selector)
}

func TestResolver_Await_TimesOutAsNotResolved(t *testing.T) {
	s := controltest.New()
	r := selector.Resolver{Interval: 2 * time.Millisecond, Timeout: 15 * time.Millisecond}
	_, err := r.Await(context.Background(), s, []string{"#missing"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, selector.ErrNotResolved))
}
