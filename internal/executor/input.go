package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ramiqadoumi/go-action-flow/internal/classify"
	"github.com/ramiqadoumi/go-action-flow/internal/control"
	"github.com/ramiqadoumi/go-action-flow/internal/domain"
	"github.com/ramiqadoumi/go-action-flow/internal/selector"
	"github.com/ramiqadoumi/go-action-flow/pkg/poll"
)

// InputStrategy is one technique for entering content into a located input
// control. A nil error only means the technique was delivered; the executor
// decides acceptance from destination-side state afterwards.
type InputStrategy interface {
	Name() string
	Enter(ctx context.Context, ch control.Channel, input selector.Resolution, content string) error
}

// errNotDelivered marks a strategy the surface declined. The chain moves on.
var errNotDelivered = errors.New("input not delivered")

// DirectInsert sets the control's value programmatically and fires the
// events a framework listens for.
type DirectInsert struct{}

func (DirectInsert) Name() string { return "direct_insert" }

func (DirectInsert) Enter(ctx context.Context, ch control.Channel, input selector.Resolution, content string) error {
	return evalAck(ctx, ch, control.InsertTextScript(input.Selector, content))
}

// Keystrokes focuses the control and types the content as simulated key
// events, which reaches handlers programmatic insertion does not.
type Keystrokes struct{}

func (Keystrokes) Name() string { return "keystrokes" }

func (Keystrokes) Enter(ctx context.Context, ch control.Channel, input selector.Resolution, content string) error {
	if ok, err := ch.ClickAt(ctx, input.Element.X, input.Element.Y); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: focus click on %q", errNotDelivered, input.Selector)
	}
	if err := evalAck(ctx, ch, control.FocusScript(input.Selector)); err != nil {
		return err
	}
	ok, err := ch.InjectKeystrokes(ctx, content)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: keystrokes into %q", errNotDelivered, input.Selector)
	}
	return nil
}

// ClipboardPaste simulates a paste event carrying the content.
type ClipboardPaste struct{}

func (ClipboardPaste) Name() string { return "clipboard_paste" }

func (ClipboardPaste) Enter(ctx context.Context, ch control.Channel, input selector.Resolution, content string) error {
	return evalAck(ctx, ch, control.PasteScript(input.Selector, content))
}

func evalAck(ctx context.Context, ch control.Channel, script string) error {
	raw, err := ch.Evaluate(ctx, script)
	if err != nil {
		return err
	}
	ack, err := control.ParseAck(raw)
	if err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("%w: %s", errNotDelivered, ack.Error)
	}
	return nil
}

// enterContent walks the input chain. A strategy only counts once the input
// shows the content and the destination enabled its submit control; a text
// change alone does not prove the destination's model took the input.
func (e *Executor) enterContent(ctx context.Context, r *run) error {
	if len(e.inputs) == 0 {
		return domain.NewActionError(domain.KindRejected, domain.StageInput, errors.New("no input strategies configured"))
	}
	var failures []error
	for i, s := range e.inputs {
		err := s.Enter(ctx, e.ch, r.input, r.task.Content)
		if err == nil {
			err = e.awaitAccepted(ctx, r)
		}
		if err == nil {
			e.record(r, domain.StageInput, s.Name(), i > 0)
			return nil
		}
		if breaksChain(err) {
			return domain.NewActionError(classify.Classify(err), domain.StageInput, fmt.Errorf("%s: %w", s.Name(), err))
		}
		r.log.Debug("input strategy not accepted",
			slog.String("strategy", s.Name()),
			slog.String("error", err.Error()),
		)
		failures = append(failures, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return domain.NewActionError(domain.KindTransientNotFound, domain.StageInput, errors.Join(failures...))
}

var errNotAccepted = errors.New("surface did not accept input")

// breaksChain reports failures of the channel itself, which no other input
// strategy can work around.
func breaksChain(err error) bool {
	return errors.Is(err, control.ErrUnavailable) ||
		errors.Is(err, control.ErrMalformed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (e *Executor) awaitAccepted(ctx context.Context, r *run) error {
	submit := r.platform.Candidates(selector.RoleSubmit)
	ok, err := poll.Until(ctx, e.cfg.PollInterval, e.cfg.InputTimeout, func(ctx context.Context) (bool, error) {
		in, err := selector.ResolveOnce(ctx, e.ch, []string{r.input.Selector})
		if errors.Is(err, selector.ErrNotResolved) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if !containsSnippet(in.Element.Text, r.task.Content, e.cfg.SnippetRunes) {
			return false, nil
		}
		btn, err := selector.ResolveOnce(ctx, e.ch, submit)
		if errors.Is(err, selector.ErrNotResolved) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return btn.Element.Enabled, nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return errNotAccepted
	}
	return nil
}
