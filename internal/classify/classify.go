// Package classify normalises raw pipeline failures into domain.ErrorKind
// values and decides, per kind and remaining attempt budget, whether a task
// is retried.
package classify

import (
	"context"
	"errors"
	"strings"

	"github.com/ramiqadoumi/go-action-flow/internal/control"
	"github.com/ramiqadoumi/go-action-flow/internal/domain"
	"github.com/ramiqadoumi/go-action-flow/internal/selector"
)

// Classify maps err to a kind. Errors that carry no recognisable signal are
// treated as ChannelUnavailable.
func Classify(err error) domain.ErrorKind {
	if err == nil {
		return ""
	}
	var ae *domain.ActionError
	if errors.As(err, &ae) && ae.Kind != "" {
		return ae.Kind
	}
	switch {
	case errors.Is(err, domain.ErrRefused):
		return domain.KindRejected
	case errors.Is(err, selector.ErrNotResolved),
		errors.Is(err, control.ErrContextLost):
		return domain.KindTransientNotFound
	case errors.Is(err, control.ErrUnavailable),
		errors.Is(err, control.ErrMalformed),
		errors.Is(err, context.DeadlineExceeded):
		return domain.KindChannelUnavailable
	}
	return domain.KindChannelUnavailable
}

// Normalise wraps err as an ActionError for stage unless it already is one.
func Normalise(stage domain.Stage, err error) *domain.ActionError {
	if err == nil {
		return nil
	}
	var ae *domain.ActionError
	if errors.As(err, &ae) {
		return ae
	}
	return domain.NewActionError(Classify(err), stage, err)
}

// Markers are the surface texts that signal a platform cooldown or an
// explicit refusal of the content.
type Markers struct {
	RateLimit []string
	Rejection []string
}

// Surface inspects visible page text for cooldown or rejection messages.
// Rejection wins when both appear.
func Surface(text string, m Markers) (domain.ErrorKind, string) {
	page := control.Fold(text)
	for _, marker := range m.Rejection {
		if marker != "" && strings.Contains(page, control.Fold(marker)) {
			return domain.KindRejected, marker
		}
	}
	for _, marker := range m.RateLimit {
		if marker != "" && strings.Contains(page, control.Fold(marker)) {
			return domain.KindRateLimited, marker
		}
	}
	return "", ""
}
