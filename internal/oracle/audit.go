package oracle

import (
	"context"
	"fmt"

	"github.com/zulandar/closeout/internal/ticket"
)

// Auditor produces the independent critique of an extracted ticket.
type Auditor struct {
	model       Model
	temperature float64
	language    string
}

// AuditorOpts holds parameters for creating an Auditor.
type AuditorOpts struct {
	Model       Model
	Temperature float64
	Language    string // critique language, defaults to zh-CN
}

// NewAuditor creates an Auditor.
func NewAuditor(opts AuditorOpts) (*Auditor, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("oracle: auditor: model is required")
	}
	lang := opts.Language
	if lang == "" {
		lang = "zh-CN"
	}
	return &Auditor{model: opts.Model, temperature: opts.Temperature, language: lang}, nil
}

// Audit issues one audit call. The returned verdict already has the scoring
// caps applied. A non-empty rejection re-prompts strictly.
func (a *Auditor) Audit(ctx context.Context, turns []ticket.Turn, rec *ticket.Record, rejection string) (*ticket.Verdict, error) {
	prompt, err := auditPrompt(rec, a.language)
	if err != nil {
		return nil, err
	}
	if rejection != "" {
		prompt += "\n" + fmt.Sprintf(strictCritiqueInstruction, rejection)
	}
	resp, err := a.model.Complete(ctx, Request{
		Stage:       StageAudit,
		Turns:       append(append([]ticket.Turn(nil), turns...), ticket.Turn{Role: ticket.RoleUser, Content: prompt}),
		Tools:       []Tool{critiqueTool()},
		ToolChoice:  ChoiceRequired,
		Temperature: a.temperature,
	})
	if err != nil {
		return nil, err
	}
	if resp.Call == nil || resp.Call.Name != ticket.SubmitCritiqueTool {
		return nil, &ticket.PayloadError{
			Tool:     ticket.SubmitCritiqueTool,
			Problems: []string{"reply did not call " + ticket.SubmitCritiqueTool},
		}
	}
	return ticket.DecodeVerdict(resp.Call.Arguments)
}
