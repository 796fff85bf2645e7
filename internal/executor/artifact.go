package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ramiqadoumi/go-action-flow/internal/control"
	"github.com/ramiqadoumi/go-action-flow/internal/domain"
)

var errNoScreenshots = errors.New("channel cannot capture screenshots")

// artifactWriter stores failure screenshots as
// <dir>/<task id>-<attempt>-<stage>.png.
type artifactWriter struct {
	shooter control.Screenshotter
	dir     string
}

func newArtifactWriter(ch control.Channel, dir string) *artifactWriter {
	w := &artifactWriter{dir: dir}
	if s, ok := ch.(control.Screenshotter); ok {
		w.shooter = s
	}
	return w
}

// capture returns the written path, or "" without error when capture is
// disabled.
func (w *artifactWriter) capture(ctx context.Context, task *domain.Task, stage domain.Stage) (string, error) {
	if w.dir == "" {
		return "", nil
	}
	if w.shooter == nil {
		return "", errNoScreenshots
	}
	png, err := w.shooter.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%d-%s.png", task.ID, task.Attempts, stage))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}
