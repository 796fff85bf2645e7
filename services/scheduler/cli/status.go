package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
	"github.com/ramiqadoumi/go-action-flow/internal/quota"
	"github.com/ramiqadoumi/go-action-flow/services/scheduler"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the queue and per-platform quota of a running scheduler",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "scheduler base URL")
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).MarginTop(1)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	var q scheduler.QueueStatus
	if err := apiGet(ctx, serverURL, "/api/v1/queue", &q); err != nil {
		return err
	}
	var quotas []quota.Snapshot
	if err := apiGet(ctx, serverURL, "/api/v1/quota", &quotas); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderStatus(q, quotas, time.Now()))
	return nil
}

func renderStatus(q scheduler.QueueStatus, quotas []quota.Snapshot, now time.Time) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Quota"))
	b.WriteString("\n")
	if len(quotas) == 0 {
		b.WriteString(dimStyle.Render("  no platforms configured"))
		b.WriteString("\n")
	}
	for _, s := range quotas {
		used := fmt.Sprintf("%d/%d", s.CurrentWindowCount, s.WindowLimit)
		style := okStyle
		if s.CurrentWindowCount >= s.WindowLimit {
			style = errStyle
		}
		next := "now"
		if s.NextEligibleAt.After(now) {
			next = "in " + s.NextEligibleAt.Sub(now).Round(time.Second).String()
		}
		fmt.Fprintf(&b, "  %-12s %s per %s, next %s\n", s.Platform, style.Render(used), s.Window, next)
	}

	b.WriteString(titleStyle.Render(fmt.Sprintf("Queue (%d pending)", len(q.Pending))))
	b.WriteString("\n")
	if q.InFlight != nil {
		b.WriteString(boxStyle.Render(fmt.Sprintf("%s %s\n%s", warnStyle.Render(string(q.InFlight.Status)), q.InFlight.ID, describe(q.InFlight))))
		b.WriteString("\n")
	}
	for _, t := range q.Pending {
		when := "due"
		if t.ScheduledFor.After(now) {
			when = "in " + t.ScheduledFor.Sub(now).Round(time.Second).String()
		}
		fmt.Fprintf(&b, "  %s  %s  %s\n", dimStyle.Render(t.ID), describe(t), dimStyle.Render(when))
	}

	if len(q.Recent) > 0 {
		b.WriteString(titleStyle.Render("Recent"))
		b.WriteString("\n")
	}
	for _, t := range q.Recent {
		fmt.Fprintf(&b, "  %s  %s  %s\n", outcome(t), dimStyle.Render(t.ID), describe(t))
	}
	return strings.TrimRight(b.String(), "\n")
}

func describe(t *domain.Task) string {
	return fmt.Sprintf("%s %s → %s (attempt %d/%d)",
		t.Target.Platform, t.Target.Kind, t.Target.Destination, t.Attempts, t.MaxAttempts)
}

func outcome(t *domain.Task) string {
	switch {
	case t.Status == domain.StatusFailed:
		kind := ""
		if t.LastError != nil {
			kind = " " + string(t.LastError.Kind)
		}
		return errStyle.Render("failed" + kind)
	case t.Verified:
		return okStyle.Render("verified")
	default:
		return warnStyle.Render("unverified")
	}
}
