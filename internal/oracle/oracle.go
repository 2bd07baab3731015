package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/closeout/internal/ticket"
)

var (
	// ErrMalformedClose is returned when the model tries to close without a
	// usable final report.
	ErrMalformedClose = errors.New("oracle: malformed close")
	// ErrEmptyReply is returned when the model produced neither text nor a call.
	ErrEmptyReply = errors.New("oracle: empty reply")
)

// Kind is the completion decision.
type Kind int

// Completion decisions.
const (
	Continue Kind = iota
	Close
)

func (k Kind) String() string {
	if k == Close {
		return "close"
	}
	return "continue"
}

// Signal is the completion oracle's verdict on a transcript.
type Signal struct {
	Kind        Kind
	Reply       string           // visible assistant text
	FinalReport string           // set on Close
	Call        *ticket.ToolCall // set when the close came through the ticket tool

	// faultType is fixed by the first successful extraction of a sentinel
	// close, which carries no fault type of its own.
	faultType string
}

// Turn returns the assistant turn that records this signal in a transcript.
func (s *Signal) Turn() ticket.Turn {
	t := ticket.Turn{Role: ticket.RoleAssistant, Content: s.Reply}
	if s.Call != nil {
		c := *s.Call
		t.Tool = &c
	}
	return t
}

// FaultType returns the fault type carried by a tool close, or the one fixed
// by an earlier extraction of a sentinel close.
func (s *Signal) FaultType() string {
	if s.Call == nil {
		return s.faultType
	}
	return ticket.PeekString(s.Call.Arguments, "fault_type")
}

// Oracle decides, turn by turn, whether the engineer's account is complete.
type Oracle struct {
	model       Model
	temperature float64
	sentinel    bool
}

// Opts holds parameters for creating an Oracle.
type Opts struct {
	Model          Model
	Temperature    float64
	LegacySentinel bool // also accept free-text Sentinel closes
}

// New creates an Oracle.
func New(opts Opts) (*Oracle, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("oracle: model is required")
	}
	return &Oracle{
		model:       opts.Model,
		temperature: opts.Temperature,
		sentinel:    opts.LegacySentinel,
	}, nil
}

// Evaluate sends the whole transcript with the ticket tool available and
// decodes the reply into Continue or Close. The transcript is not modified.
func (o *Oracle) Evaluate(ctx context.Context, tr *ticket.Transcript) (*Signal, error) {
	resp, err := o.model.Complete(ctx, Request{
		Stage:       StageInterview,
		Turns:       tr.Turns(),
		Tools:       []Tool{recordTool()},
		ToolChoice:  ChoiceAuto,
		Temperature: o.temperature,
	})
	if err != nil {
		return nil, err
	}
	return o.decode(resp)
}

func (o *Oracle) decode(resp *Response) (*Signal, error) {
	text := strings.TrimSpace(resp.Text)
	if resp.Call != nil {
		if resp.Call.Name != ticket.SubmitTicketTool {
			return nil, fmt.Errorf("%w: unexpected tool %q", ErrMalformedClose, resp.Call.Name)
		}
		report := ticket.PeekString(resp.Call.Arguments, "final_report")
		if report == "" {
			return nil, fmt.Errorf("%w: %s has no final_report", ErrMalformedClose, ticket.SubmitTicketTool)
		}
		call := *resp.Call
		return &Signal{Kind: Close, Reply: text, FinalReport: report, Call: &call}, nil
	}

	if o.sentinel {
		if i := strings.Index(text, Sentinel); i >= 0 {
			report := strings.TrimSpace(text[i+len(Sentinel):])
			if report != "" {
				return &Signal{Kind: Close, Reply: text, FinalReport: report}, nil
			}
			text = strings.TrimSpace(text[:i])
		}
	}
	if text == "" {
		return nil, ErrEmptyReply
	}
	return &Signal{Kind: Continue, Reply: text}, nil
}
