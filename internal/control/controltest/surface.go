// Package controltest provides an in-memory control.Channel that simulates a
// destination surface for tests.
package controltest

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ramiqadoumi/go-action-flow/internal/control"
)

// literal matches the double-quoted JSON string literals the control
// scripts embed; static script strings are single-quoted.
var literal = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)

// Point is a click coordinate.
type Point struct{ X, Y float64 }

// Surface is a fake page. Elements are keyed by selector. Hooks run with the
// surface lock held and may mutate Elements and PageText directly.
type Surface struct {
	mu sync.Mutex

	Elements map[string]*control.Element
	// Rendered maps a rendered-role selector to the texts it matches.
	Rendered map[string][]string
	PageText string

	// Err, when set, is returned by every call.
	Err error
	// Raw, when set, replaces every Evaluate result.
	Raw string
	// NavigateOK is returned by Navigate. Defaults to true via New.
	NavigateOK bool

	OnInsert     func(s *Surface, selector, text string)
	OnPaste      func(s *Surface, selector, text string)
	OnKeystrokes func(s *Surface, text string)
	OnClick      func(s *Surface, p Point)

	Navigated  []string
	Keystrokes []string
	Clicks     []Point
	Inserts    []string
	Pastes     []string
	Evaluated  int
	Shots      int
}

// New returns an empty surface that accepts navigation.
func New() *Surface {
	return &Surface{
		Elements:   map[string]*control.Element{},
		Rendered:   map[string][]string{},
		NavigateOK: true,
	}
}

// Put adds or replaces an element.
func (s *Surface) Put(selector string, el control.Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el.Found = true
	s.Elements[selector] = &el
}

// SetErr makes every later call fail with err, or succeed again when nil.
func (s *Surface) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// Render makes text visible under a rendered-role selector.
func (s *Surface) Render(selector, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rendered[selector] = append(s.Rendered[selector], text)
}

// SetPageText replaces the visible page text.
func (s *Surface) SetPageText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PageText = text
}

// Snapshot returns copies of the recorded interactions.
func (s *Surface) Snapshot() (navigated, keystrokes, inserts, pastes []string, clicks []Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Navigated...), append([]string(nil), s.Keystrokes...),
		append([]string(nil), s.Inserts...), append([]string(nil), s.Pastes...),
		append([]Point(nil), s.Clicks...)
}

func (s *Surface) Navigate(_ context.Context, destination string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	s.Navigated = append(s.Navigated, destination)
	return s.NavigateOK, nil
}

func (s *Surface) Evaluate(_ context.Context, script string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Evaluated++
	if s.Err != nil {
		return "", s.Err
	}
	if s.Raw != "" {
		return s.Raw, nil
	}
	args := literals(script)
	switch {
	case strings.Contains(script, "getBoundingClientRect"):
		el, ok := s.Elements[arg(args, 0)]
		if !ok {
			return `{"found":false}`, nil
		}
		return marshal(el), nil
	case strings.Contains(script, "ClipboardEvent"):
		sel, text := arg(args, 0), arg(args, 1)
		if _, ok := s.Elements[sel]; !ok {
			return `{"ok":false,"error":"not found"}`, nil
		}
		s.Pastes = append(s.Pastes, text)
		if s.OnPaste != nil {
			s.OnPaste(s, sel, text)
		}
		return `{"ok":true}`, nil
	case strings.Contains(script, "InputEvent"):
		sel, text := arg(args, 0), arg(args, 1)
		if _, ok := s.Elements[sel]; !ok {
			return `{"ok":false,"error":"not found"}`, nil
		}
		s.Inserts = append(s.Inserts, text)
		if s.OnInsert != nil {
			s.OnInsert(s, sel, text)
		}
		return `{"ok":true}`, nil
	case strings.Contains(script, "querySelectorAll"):
		needle, sel := normalise(arg(args, 0)), arg(args, 1)
		for i, text := range s.Rendered[sel] {
			if strings.Contains(normalise(text), needle) {
				return marshal(control.Match{Found: true, Ref: fmt.Sprintf("%s#%d", sel, i)}), nil
			}
		}
		return `{"found":false}`, nil
	case strings.Contains(script, "document.activeElement"):
		_, ok := s.Elements[arg(args, 0)]
		return marshal(control.Ack{OK: ok}), nil
	case strings.Contains(script, "document.body"):
		return marshal(control.PageText{Text: s.PageText}), nil
	}
	return "", fmt.Errorf("controltest: unrecognised script")
}

func (s *Surface) WaitForCondition(ctx context.Context, predicate string, timeout time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	return true, nil
}

func (s *Surface) InjectKeystrokes(_ context.Context, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	s.Keystrokes = append(s.Keystrokes, text)
	if s.OnKeystrokes != nil {
		s.OnKeystrokes(s, text)
	}
	return true, nil
}

func (s *Surface) ClickAt(_ context.Context, x, y float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	p := Point{X: x, Y: y}
	s.Clicks = append(s.Clicks, p)
	if s.OnClick != nil {
		s.OnClick(s, p)
	}
	return true, nil
}

func (s *Surface) Screenshot(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Shots++
	return []byte("\x89PNG fake"), nil
}

func literals(script string) []string {
	var out []string
	for _, m := range literal.FindAllString(script, -1) {
		var v string
		if err := json.Unmarshal([]byte(m), &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func normalise(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func marshal(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

var (
	_ control.Channel       = (*Surface)(nil)
	_ control.Screenshotter = (*Surface)(nil)
)
