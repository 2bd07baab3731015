package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/closeout/internal/ticket"
)

// ErrNoPayload is returned by FromClose when the close carried no tool call.
var ErrNoPayload = errors.New("oracle: close carried no ticket payload")

// Extractor turns a closed transcript into a ticket record.
type Extractor struct {
	model       Model
	temperature float64
}

// ExtractorOpts holds parameters for creating an Extractor.
type ExtractorOpts struct {
	Model       Model
	Temperature float64
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ExtractorOpts) (*Extractor, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("oracle: extractor: model is required")
	}
	return &Extractor{model: opts.Model, temperature: opts.Temperature}, nil
}

// FromClose decodes the ticket payload carried by a tool close without
// another model call.
func FromClose(sig *Signal) (*ticket.Record, error) {
	if sig == nil || sig.Call == nil {
		return nil, ErrNoPayload
	}
	rec, err := ticket.DecodeRecord(sig.Call.Arguments)
	if err != nil {
		return nil, err
	}
	pin(rec, sig)
	return rec, nil
}

// Extract issues one extraction call over the closed transcript. A non-empty
// rejection switches to the stricter re-prompt and explains what was wrong
// with the previous payload.
func (e *Extractor) Extract(ctx context.Context, turns []ticket.Turn, sig *Signal, rejection string) (*ticket.Record, error) {
	instruction := extractInstruction
	if rejection != "" {
		instruction = fmt.Sprintf(strictInstruction, rejection)
	}
	req := Request{
		Stage:       StageExtract,
		Turns:       append(append([]ticket.Turn(nil), turns...), ticket.Turn{Role: ticket.RoleUser, Content: instruction}),
		Tools:       []Tool{recordTool()},
		ToolChoice:  ChoiceRequired,
		Temperature: e.temperature,
	}
	resp, err := e.model.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Call == nil || resp.Call.Name != ticket.SubmitTicketTool {
		return nil, &ticket.PayloadError{
			Tool:     ticket.SubmitTicketTool,
			Problems: []string{"reply did not call " + ticket.SubmitTicketTool},
		}
	}
	rec, err := ticket.DecodeRecord(resp.Call.Arguments)
	if err != nil {
		return nil, err
	}
	pin(rec, sig)
	return rec, nil
}

// pin makes the closing report authoritative: final_report always comes from
// the close, and fault_type does too when the close carried one. Otherwise
// the first extracted fault_type is fixed on the signal for later passes.
func pin(rec *ticket.Record, sig *Signal) {
	if sig == nil {
		return
	}
	if sig.FinalReport != "" {
		rec.FinalReport = sig.FinalReport
	}
	if ft := sig.FaultType(); ft != "" {
		rec.FaultType = ft
		return
	}
	if rec.FaultType != "" && rec.FaultType != ticket.Unknown {
		sig.faultType = rec.FaultType
	}
}
