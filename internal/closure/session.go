package closure

import (
	"time"

	"github.com/zulandar/closeout/internal/oracle"
	"github.com/zulandar/closeout/internal/ticket"
)

// Session is one operator's closure state. It is not safe for concurrent
// use; callers serialise access per operator.
type Session struct {
	Operator        string
	Phase           Phase
	Transcript      *ticket.Transcript
	Close           *oracle.Signal
	Record          *ticket.Record
	Verdict         *ticket.Verdict
	RecordDegraded  bool
	VerdictDegraded bool
	ExtractAttempts int
	AuditAttempts   int
	StartedAt       time.Time
}

// Degraded reports whether either stage fell back to a placeholder.
func (s *Session) Degraded() bool {
	return s.RecordDegraded || s.VerdictDegraded
}

// View is a read-only snapshot of a session for API and CLI output.
type View struct {
	Operator        string          `json:"operator"`
	Phase           Phase           `json:"phase"`
	Turns           []ticket.Turn   `json:"turns"`
	FinalReport     string          `json:"final_report,omitempty"`
	Record          *ticket.Record  `json:"record,omitempty"`
	Verdict         *ticket.Verdict `json:"verdict,omitempty"`
	RecordDegraded  bool            `json:"record_degraded"`
	VerdictDegraded bool            `json:"verdict_degraded"`
	StartedAt       time.Time       `json:"started_at"`
}

// Snapshot copies the session into a View. The system prompt is omitted.
func (s *Session) Snapshot() View {
	v := View{
		Operator:        s.Operator,
		Phase:           s.Phase,
		Turns:           s.Transcript.Tail(0),
		RecordDegraded:  s.RecordDegraded,
		VerdictDegraded: s.VerdictDegraded,
		StartedAt:       s.StartedAt,
	}
	if s.Close != nil {
		v.FinalReport = s.Close.FinalReport
	}
	if s.Record != nil {
		r := s.Record.Clone()
		v.Record = &r
	}
	if s.Verdict != nil {
		vd := *s.Verdict
		v.Verdict = &vd
	}
	return v
}
