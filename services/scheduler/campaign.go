package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
)

// Campaign enqueues the same kind of action for a list of destinations on
// a cron schedule.
type Campaign struct {
	Name         string             `mapstructure:"name" yaml:"name"`
	Cron         string             `mapstructure:"cron" yaml:"cron"`
	Platform     string             `mapstructure:"platform" yaml:"platform"`
	Kind         domain.ContentKind `mapstructure:"kind" yaml:"kind"`
	Style        string             `mapstructure:"style" yaml:"style"`
	Destinations []string           `mapstructure:"destinations" yaml:"destinations"`
	MaxAttempts  int                `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// Campaigns runs configured campaigns against an Enqueuer.
type Campaigns struct {
	cron   *cron.Cron
	sched  Enqueuer
	logger *slog.Logger
}

// NewCampaigns validates every campaign and registers it. Cron expressions
// use the standard five-field syntax.
func NewCampaigns(sched Enqueuer, campaigns []Campaign, logger *slog.Logger) (*Campaigns, error) {
	c := &Campaigns{cron: cron.New(), sched: sched, logger: logger}
	seen := map[string]bool{}
	for _, camp := range campaigns {
		if strings.TrimSpace(camp.Name) == "" {
			return nil, errors.New("campaign without a name")
		}
		if seen[camp.Name] {
			return nil, fmt.Errorf("campaign %q defined twice", camp.Name)
		}
		seen[camp.Name] = true
		if len(camp.Destinations) == 0 {
			return nil, fmt.Errorf("campaign %q has no destinations", camp.Name)
		}
		schedule, err := cron.ParseStandard(camp.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron %q for campaign %q: %w", camp.Cron, camp.Name, err)
		}
		camp := camp
		c.cron.Schedule(schedule, cron.FuncJob(func() { c.Fire(camp) }))
	}
	return c, nil
}

func (c *Campaigns) Start() { c.cron.Start() }

// Stop halts the cron loop and waits for a running Fire to return.
func (c *Campaigns) Stop() { <-c.cron.Stop().Done() }

// Fire enqueues one action per destination of camp and returns how many
// were accepted.
func (c *Campaigns) Fire(camp Campaign) int {
	enqueued := 0
	for _, dest := range camp.Destinations {
		req := ActionRequest{
			Platform:    camp.Platform,
			Destination: dest,
			Kind:        camp.Kind,
			Style:       camp.Style,
			MaxAttempts: camp.MaxAttempts,
		}
		if _, err := req.Submit(c.sched); err != nil {
			c.logger.Warn("campaign destination refused",
				slog.String("campaign", camp.Name),
				slog.String("destination", dest),
				slog.String("error", err.Error()),
			)
			continue
		}
		enqueued++
	}
	c.logger.Info("campaign fired",
		slog.String("campaign", camp.Name),
		slog.Int("enqueued", enqueued),
		slog.Int("destinations", len(camp.Destinations)),
	)
	return enqueued
}
