package oracle

import (
	"context"
	"log"
	"time"

	"github.com/zulandar/closeout/internal/metrics"
	"github.com/zulandar/closeout/internal/models"
)

// CallRecorder persists model call records.
type CallRecorder interface {
	RecordCall(ctx context.Context, call models.OracleCall) error
}

// Recorded wraps a Model, logging every call to a CallRecorder and to the
// prometheus collectors.
type Recorded struct {
	next     Model
	recorder CallRecorder
	name     string
}

// NewRecorded wraps next. recorder may be nil, in which case only metrics
// are emitted.
func NewRecorded(next Model, recorder CallRecorder, modelName string) *Recorded {
	return &Recorded{next: next, recorder: recorder, name: modelName}
}

// Complete implements Model.
func (r *Recorded) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := r.next.Complete(ctx, req)
	elapsed := time.Since(start)

	stage := string(req.Stage)
	call := models.OracleCall{
		Operator:  OperatorFrom(ctx),
		Stage:     stage,
		Model:     r.name,
		LatencyMs: int(elapsed.Milliseconds()),
	}
	switch {
	case err != nil:
		call.Outcome = "error"
		call.Error = err.Error()
		metrics.Errors.WithLabelValues("oracle", stage).Inc()
	case resp.Call != nil:
		call.Outcome = "call"
		call.ToolName = resp.Call.Name
	default:
		call.Outcome = "text"
	}
	if resp != nil {
		if resp.Model != "" {
			call.Model = resp.Model
		}
		call.InputTokens = resp.InputTokens
		call.OutputTokens = resp.OutputTokens
		metrics.OracleTokens.WithLabelValues(stage, "input").Add(float64(resp.InputTokens))
		metrics.OracleTokens.WithLabelValues(stage, "output").Add(float64(resp.OutputTokens))
	}
	metrics.OracleCalls.WithLabelValues(stage, call.Outcome).Inc()
	metrics.OracleDuration.WithLabelValues(stage).Observe(elapsed.Seconds())

	if r.recorder != nil {
		if rerr := r.recorder.RecordCall(context.WithoutCancel(ctx), call); rerr != nil {
			log.Printf("oracle: record %s call: %v", stage, rerr)
		}
	}
	return resp, err
}
