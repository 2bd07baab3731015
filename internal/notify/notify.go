// Package notify posts closed-ticket announcements and digests to chat
// channels. Each platform sits behind a small client interface so tests can
// substitute fakes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/closeout/internal/metrics"
	"github.com/zulandar/closeout/internal/store"
	"github.com/zulandar/closeout/internal/ticket"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// Event is a platform-neutral rich message.
type Event struct {
	Title  string
	Body   string
	Color  string
	Fields []Field
}

// Field is a key-value pair displayed with an event.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Notifier delivers events to one channel.
type Notifier interface {
	Name() string
	Post(ctx context.Context, evt Event) error
}

// Multi fans an event out to every notifier. All are attempted; the
// failures are joined.
type Multi []Notifier

// Name implements Notifier.
func (m Multi) Name() string {
	names := make([]string, 0, len(m))
	for _, n := range m {
		names = append(names, n.Name())
	}
	return strings.Join(names, ",")
}

// Post implements Notifier.
func (m Multi) Post(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Post(ctx, evt); err != nil {
			metrics.Errors.WithLabelValues("notify", n.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Hook announces every submitted ticket.
type Hook struct {
	notifier Notifier
}

// NewHook creates a Hook that posts through n.
func NewHook(n Notifier) (*Hook, error) {
	if n == nil {
		return nil, fmt.Errorf("notify: notifier is required")
	}
	return &Hook{notifier: n}, nil
}

// AfterSubmit posts the ticket summary.
func (h *Hook) AfterSubmit(ctx context.Context, id uint, sub store.Submission) error {
	return h.notifier.Post(ctx, FormatSubmission(id, sub))
}

// riskColor maps a verdict to a sidebar color.
func riskColor(v ticket.Verdict) string {
	if v.SOPViolation || v.RiskLevel == ticket.RiskHigh {
		return ColorError
	}
	if v.RiskLevel == ticket.RiskMedium {
		return ColorWarning
	}
	return ColorSuccess
}

// FormatSubmission formats a stored ticket announcement.
func FormatSubmission(id uint, sub store.Submission) Event {
	rec := sub.Record
	v := sub.Verdict

	var body []string
	body = append(body, truncate(rec.FinalReport, 600))
	if len(rec.Replacements) > 0 {
		body = append(body, "")
		body = append(body, "**Replacements**:")
		for _, r := range rec.Replacements {
			body = append(body, fmt.Sprintf("  %s %s → %s %s", r.OldType, r.OldQN, r.NewType, r.NewQN))
		}
	}
	if v.CritiqueText != "" {
		body = append(body, "")
		body = append(body, "**Audit**: "+truncate(v.CritiqueText, 400))
	}

	fields := []Field{
		{Name: "Engineer", Value: sub.Engineer, Short: true},
		{Name: "Fault", Value: rec.FaultType, Short: true},
		{Name: "Device", Value: rec.DeviceSN, Short: true},
		{Name: "Risk", Value: string(v.RiskLevel), Short: true},
		{Name: "Score", Value: fmt.Sprintf("%d", v.OverallScore), Short: true},
	}
	if v.SOPViolation {
		fields = append(fields, Field{Name: "SOP", Value: "violation", Short: true})
	}
	if sub.Degraded {
		fields = append(fields, Field{Name: "Degraded", Value: "yes", Short: true})
	}

	return Event{
		Title:  fmt.Sprintf("Ticket #%d closed: %s", id, rec.FaultType),
		Body:   strings.Join(body, "\n"),
		Color:  riskColor(v),
		Fields: fields,
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
