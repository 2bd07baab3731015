// Package digest builds a periodic summary of submitted tickets and posts it
// on a cron schedule.
package digest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zulandar/closeout/internal/models"
	"github.com/zulandar/closeout/internal/notify"
	"github.com/zulandar/closeout/internal/store"
	"github.com/zulandar/closeout/internal/ticket"
)

// Source is the read side of the ticket store the digest needs.
type Source interface {
	Since(ctx context.Context, t time.Time) ([]models.Ticket, error)
	CallStatsBetween(ctx context.Context, since, until time.Time) ([]store.CallStats, error)
}

// Count is a label with a ticket count.
type Count struct {
	Name  string
	Count int
}

// Report summarises one digest window.
type Report struct {
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Tickets       int
	SOPViolations int
	HighRisk      int
	Degraded      int
	AvgScore      float64
	ByFault       []Count
	ByEngineer    []Count
	Calls         []store.CallStats
}

// Build aggregates the tickets and model calls in [since, until).
func Build(ctx context.Context, src Source, since, until time.Time) (*Report, error) {
	rows, err := src.Since(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("digest: load tickets: %w", err)
	}
	calls, err := src.CallStatsBetween(ctx, since, until)
	if err != nil {
		return nil, fmt.Errorf("digest: load call stats: %w", err)
	}

	r := &Report{PeriodStart: since, PeriodEnd: until, Calls: calls}
	faults := map[string]int{}
	engineers := map[string]int{}
	total := 0
	for _, row := range rows {
		if !row.CreatedAt.Before(until) {
			continue
		}
		r.Tickets++
		total += row.OverallScore
		if row.SOPViolation {
			r.SOPViolations++
		}
		if ticket.RiskLevel(row.RiskLevel) == ticket.RiskHigh {
			r.HighRisk++
		}
		if row.Degraded {
			r.Degraded++
		}
		faults[row.FaultType]++
		engineers[row.EngineerName]++
	}
	if r.Tickets > 0 {
		r.AvgScore = float64(total) / float64(r.Tickets)
	}
	r.ByFault = ranked(faults)
	r.ByEngineer = ranked(engineers)
	return r, nil
}

// ranked orders counts descending, then by name.
func ranked(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for name, n := range m {
		out = append(out, Count{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Format renders a report as a notify event.
func Format(r *Report) notify.Event {
	var lines []string
	lines = append(lines, fmt.Sprintf("**Period**: %s – %s",
		r.PeriodStart.Format("Jan 2 15:04"), r.PeriodEnd.Format("Jan 2 15:04")))
	lines = append(lines, fmt.Sprintf("**Tickets**: %d closed, avg score %.1f", r.Tickets, r.AvgScore))
	if r.SOPViolations > 0 || r.HighRisk > 0 {
		lines = append(lines, fmt.Sprintf("**Flagged**: %d SOP violations, %d high risk", r.SOPViolations, r.HighRisk))
	}
	if len(r.ByFault) > 0 {
		lines = append(lines, "", "**By fault**:")
		for _, c := range top(r.ByFault, 5) {
			lines = append(lines, fmt.Sprintf("  %s: %d", c.Name, c.Count))
		}
	}
	if len(r.ByEngineer) > 0 {
		lines = append(lines, "", "**By engineer**:")
		for _, c := range top(r.ByEngineer, 5) {
			lines = append(lines, fmt.Sprintf("  %s: %d", c.Name, c.Count))
		}
	}

	var calls, callErrors, tokens int64
	for _, s := range r.Calls {
		calls += s.Calls
		callErrors += s.Errors
		tokens += s.InputTokens + s.OutputTokens
	}

	fields := []notify.Field{
		{Name: "Tickets", Value: fmt.Sprintf("%d", r.Tickets), Short: true},
		{Name: "Avg score", Value: fmt.Sprintf("%.1f", r.AvgScore), Short: true},
		{Name: "Model calls", Value: fmt.Sprintf("%d (%d failed)", calls, callErrors), Short: true},
		{Name: "Tokens", Value: formatTokenCount(tokens), Short: true},
	}
	if r.Degraded > 0 {
		fields = append(fields, notify.Field{Name: "Degraded", Value: fmt.Sprintf("%d", r.Degraded), Short: true})
	}

	color := notify.ColorInfo
	if r.SOPViolations > 0 {
		color = notify.ColorWarning
	}
	return notify.Event{
		Title:  "Closeout Digest",
		Body:   strings.Join(lines, "\n"),
		Color:  color,
		Fields: fields,
	}
}

func top(cs []Count, n int) []Count {
	if len(cs) > n {
		return cs[:n]
	}
	return cs
}

// formatTokenCount formats a token count for display (e.g. 1.2M, 450K).
func formatTokenCount(tokens int64) string {
	switch {
	case tokens >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(tokens)/1_000_000)
	case tokens >= 1_000:
		return fmt.Sprintf("%.1fK", float64(tokens)/1_000)
	default:
		return fmt.Sprintf("%d", tokens)
	}
}
