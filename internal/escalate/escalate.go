// Package escalate opens a GitHub issue for submitted tickets that breach an
// SOP red line or reach the configured risk level, so a reviewer follows up.
package escalate

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/zulandar/closeout/internal/metrics"
	"github.com/zulandar/closeout/internal/store"
	"github.com/zulandar/closeout/internal/ticket"
	"golang.org/x/oauth2"
)

// issuesService is the subset of *github.IssuesService used here.
type issuesService interface {
	Create(ctx context.Context, owner, repo string, issue *github.IssueRequest) (*github.Issue, *github.Response, error)
}

// Escalator files follow-up issues.
type Escalator struct {
	issues  issuesService
	owner   string
	repo    string
	labels  []string
	minRisk ticket.RiskLevel
}

// Opts holds parameters for creating an Escalator.
type Opts struct {
	Owner   string
	Repo    string
	Token   string
	Labels  []string
	MinRisk ticket.RiskLevel // defaults to High
	BaseURL string           // GitHub Enterprise or test server; optional
	Issues  issuesService    // overrides Token and BaseURL; for tests
}

// New creates an Escalator.
func New(opts Opts) (*Escalator, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("escalate: owner and repo are required")
	}
	minRisk := opts.MinRisk
	if minRisk == "" {
		minRisk = ticket.RiskHigh
	}
	if !minRisk.Valid() {
		return nil, fmt.Errorf("escalate: invalid min risk %q", minRisk)
	}

	issues := opts.Issues
	if issues == nil {
		if opts.Token == "" {
			return nil, fmt.Errorf("escalate: github token is required")
		}
		client, err := newClient(opts.Token, opts.BaseURL)
		if err != nil {
			return nil, err
		}
		issues = client.Issues
	}
	return &Escalator{
		issues:  issues,
		owner:   opts.Owner,
		repo:    opts.Repo,
		labels:  opts.Labels,
		minRisk: minRisk,
	}, nil
}

func newClient(token, baseURL string) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(context.Background(), ts))
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("escalate: parse base url: %w", err)
		}
		client.BaseURL = u
	}
	return client, nil
}

// Needed reports whether a verdict warrants an issue.
func (e *Escalator) Needed(v ticket.Verdict) bool {
	return v.SOPViolation || v.RiskLevel.Rank() >= e.minRisk.Rank()
}

// AfterSubmit opens an issue when the ticket needs follow-up.
func (e *Escalator) AfterSubmit(ctx context.Context, id uint, sub store.Submission) error {
	if !e.Needed(sub.Verdict) {
		return nil
	}
	req := &github.IssueRequest{
		Title: github.Ptr(issueTitle(id, sub)),
		Body:  github.Ptr(issueBody(id, sub)),
	}
	if len(e.labels) > 0 {
		labels := append([]string(nil), e.labels...)
		req.Labels = &labels
	}
	issue, resp, err := e.issues.Create(ctx, e.owner, e.repo, req)
	if err != nil {
		metrics.Errors.WithLabelValues("escalate", "github").Inc()
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("escalate: repository %s/%s not found or token lacks access: %w", e.owner, e.repo, err)
		}
		return fmt.Errorf("escalate: create issue: %w", err)
	}
	log.Printf("escalate: ticket %d -> %s/%s#%d", id, e.owner, e.repo, issue.GetNumber())
	return nil
}

func issueTitle(id uint, sub store.Submission) string {
	reason := fmt.Sprintf("%s risk", sub.Verdict.RiskLevel)
	if sub.Verdict.SOPViolation {
		reason = "SOP violation"
	}
	return fmt.Sprintf("[closeout] Ticket #%d: %s (%s)", id, reason, sub.Record.FaultType)
}

func issueBody(id uint, sub store.Submission) string {
	rec := sub.Record
	v := sub.Verdict
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket **#%d** submitted by **%s** needs review.\n\n", id, sub.Engineer)
	fmt.Fprintf(&b, "| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Device SN | %s |\n", rec.DeviceSN)
	fmt.Fprintf(&b, "| Product line | %s |\n", rec.ProductLine)
	fmt.Fprintf(&b, "| Fault type | %s |\n", rec.FaultType)
	fmt.Fprintf(&b, "| Risk | %s |\n", v.RiskLevel)
	fmt.Fprintf(&b, "| Score | %d |\n", v.OverallScore)
	fmt.Fprintf(&b, "| SOP violation | %t |\n", v.SOPViolation)
	if sub.Degraded {
		b.WriteString("| Degraded | true |\n")
	}
	fmt.Fprintf(&b, "\n### Final report\n\n%s\n", rec.FinalReport)
	if len(rec.Replacements) > 0 {
		b.WriteString("\n### Replacements\n\n")
		for _, r := range rec.Replacements {
			fmt.Fprintf(&b, "- %s %s → %s %s (%s)\n", r.OldType, r.OldQN, r.NewType, r.NewQN, r.ActionInfo)
		}
	}
	fmt.Fprintf(&b, "\n### Audit critique\n\n%s\n", v.CritiqueText)
	return b.String()
}
