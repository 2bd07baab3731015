// Package oracle drives the reasoning model through the three closure
// stages: the interview that decides when a report is complete, extraction
// of the structured ticket, and the independent audit critique.
package oracle

import (
	"context"
	"time"

	"github.com/zulandar/closeout/internal/ticket"
)

// Stage labels a model call for logging and metrics.
type Stage string

// Stages.
const (
	StageInterview Stage = "interview"
	StageExtract   Stage = "extract"
	StageAudit     Stage = "audit"
)

// ToolChoice controls whether the model may answer in text.
type ToolChoice string

// Tool choices.
const (
	ChoiceAuto     ToolChoice = "auto"
	ChoiceRequired ToolChoice = "required"
)

// Tool declares a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one chat-completion call.
type Request struct {
	Stage       Stage
	Turns       []ticket.Turn
	Tools       []Tool
	ToolChoice  ToolChoice
	Temperature float64
}

// Response is the model's reply: text, a tool call, or both.
type Response struct {
	Text         string
	Call         *ticket.ToolCall
	Model        string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}

// Model is the reasoning-model boundary.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

type operatorKey struct{}

// WithOperator tags ctx with the operator whose session issues the calls.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey{}, operator)
}

// OperatorFrom returns the operator tagged on ctx, if any.
func OperatorFrom(ctx context.Context) string {
	s, _ := ctx.Value(operatorKey{}).(string)
	return s
}

func recordTool() Tool {
	return Tool{
		Name:        ticket.SubmitTicketTool,
		Description: "当维修报告满足 PIA 完整性要求时调用，提交结构化工单。",
		Parameters:  ticket.RecordParameters(),
	}
}

func critiqueTool() Tool {
	return Tool{
		Name:        ticket.SubmitCritiqueTool,
		Description: "提交对本次维修工单的审计点评与评分。",
		Parameters:  ticket.VerdictParameters(),
	}
}
