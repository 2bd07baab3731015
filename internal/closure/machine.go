package closure

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zulandar/closeout/internal/metrics"
	"github.com/zulandar/closeout/internal/oracle"
	"github.com/zulandar/closeout/internal/store"
	"github.com/zulandar/closeout/internal/ticket"
)

var (
	// ErrOracle wraps a failed completion call. The session is unchanged.
	ErrOracle = errors.New("closure: oracle call failed")
	// ErrStore wraps a failed ticket write. The session stays in REVIEW.
	ErrStore = errors.New("closure: ticket store write failed")
	// ErrEmptyTurn is returned for a blank operator utterance.
	ErrEmptyTurn = errors.New("closure: empty turn")
	// ErrTurnLimit is returned once a session has used all its user turns.
	ErrTurnLimit = errors.New("closure: turn limit reached")
	// ErrEngineerRequired is returned when submitting without a name.
	ErrEngineerRequired = errors.New("closure: engineer name is required")
)

// Evaluator decides whether a transcript is complete.
type Evaluator interface {
	Evaluate(ctx context.Context, tr *ticket.Transcript) (*oracle.Signal, error)
}

// Extractor runs one extraction call over a closed transcript.
type Extractor interface {
	Extract(ctx context.Context, turns []ticket.Turn, sig *oracle.Signal, rejection string) (*ticket.Record, error)
}

// Auditor runs one audit call over an extracted record.
type Auditor interface {
	Audit(ctx context.Context, turns []ticket.Turn, rec *ticket.Record, rejection string) (*ticket.Verdict, error)
}

// Store persists confirmed tickets.
type Store interface {
	Create(ctx context.Context, sub store.Submission) (uint, error)
}

// SubmitHook is told about every ticket after it is stored. Hook errors are
// logged and never undo the submission.
type SubmitHook interface {
	AfterSubmit(ctx context.Context, id uint, sub store.Submission) error
}

// Default session bounds.
const (
	DefaultTranscriptTail = 20
	DefaultMaxTurns       = 60
)

// Machine performs the side effects of the closure state machine.
type Machine struct {
	oracle       Evaluator
	extractor    Extractor
	auditor      Auditor
	store        Store
	hooks        []SubmitHook
	systemPrompt string
	tail         int
	maxTurns     int
	now          func() time.Time
}

// MachineOpts holds parameters for creating a Machine.
type MachineOpts struct {
	Oracle         Evaluator
	Extractor      Extractor
	Auditor        Auditor
	Store          Store
	Hooks          []SubmitHook
	SystemPrompt   string
	TranscriptTail int // turns handed to the store; defaults to DefaultTranscriptTail
	MaxTurns       int // user turns per session; defaults to DefaultMaxTurns
	Now            func() time.Time
}

// NewMachine creates a Machine.
func NewMachine(opts MachineOpts) (*Machine, error) {
	if opts.Oracle == nil {
		return nil, fmt.Errorf("closure: oracle is required")
	}
	if opts.Extractor == nil {
		return nil, fmt.Errorf("closure: extractor is required")
	}
	if opts.Auditor == nil {
		return nil, fmt.Errorf("closure: auditor is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("closure: store is required")
	}
	if opts.SystemPrompt == "" {
		return nil, fmt.Errorf("closure: system prompt is required")
	}
	tail := opts.TranscriptTail
	if tail <= 0 {
		tail = DefaultTranscriptTail
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		oracle:       opts.Oracle,
		extractor:    opts.Extractor,
		auditor:      opts.Auditor,
		store:        opts.Store,
		hooks:        opts.Hooks,
		systemPrompt: opts.SystemPrompt,
		tail:         tail,
		maxTurns:     maxTurns,
		now:          now,
	}, nil
}

// NewSession creates a fresh COLLECTING session for operator.
func (m *Machine) NewSession(operator string) *Session {
	return &Session{
		Operator:   operator,
		Phase:      Collecting,
		Transcript: ticket.NewTranscript(m.systemPrompt),
		StartedAt:  m.now(),
	}
}

// TurnResult reports what a user turn led to.
type TurnResult struct {
	Phase       Phase
	Reply       string
	FinalReport string
}

// HandleTurn feeds one operator utterance through the completion oracle.
// On continue the user and assistant turns are appended together. On close
// the session runs extraction and audit before returning in REVIEW. On
// oracle failure the session is left exactly as it was.
func (m *Machine) HandleTurn(ctx context.Context, s *Session, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyTurn
	}
	if s.Phase == Collecting && s.Transcript.UserTurns() >= m.maxTurns {
		return nil, fmt.Errorf("%w (%d)", ErrTurnLimit, m.maxTurns)
	}
	if err := m.step(s, EventUserTurn); err != nil {
		return nil, err
	}

	ctx = oracle.WithOperator(ctx, s.Operator)
	user := ticket.Turn{Role: ticket.RoleUser, Content: text}
	candidate := s.Transcript.Clone()
	if err := candidate.Append(user); err != nil {
		m.step(s, EventOracleFailed)
		return nil, err
	}

	sig, err := m.oracle.Evaluate(ctx, candidate)
	if err != nil {
		m.step(s, EventOracleFailed)
		log.Printf("closure: %s: oracle failed, turn not recorded: %v", s.Operator, err)
		return nil, fmt.Errorf("%w: %w", ErrOracle, err)
	}

	if err := s.Transcript.Append(user, sig.Turn()); err != nil {
		m.step(s, EventOracleFailed)
		return nil, err
	}
	if sig.Kind == oracle.Continue {
		m.step(s, EventContinue)
		return &TurnResult{Phase: s.Phase, Reply: sig.Reply}, nil
	}

	s.Close = sig
	m.step(s, EventClose)
	log.Printf("closure: %s: dialogue closed after %d user turns", s.Operator, s.Transcript.UserTurns())
	// Extraction and audit finish even if the caller goes away; each call is
	// still bounded by the model client's timeout.
	post := context.WithoutCancel(ctx)
	m.extract(post, s)
	m.audit(post, s)
	return &TurnResult{Phase: s.Phase, Reply: sig.Reply, FinalReport: sig.FinalReport}, nil
}

// extract fills s.Record. The first attempt decodes the close payload when
// there is one; the single retry always asks the model again with the
// stricter prompt. A second failure substitutes the placeholder record.
func (m *Machine) extract(ctx context.Context, s *Session) {
	turns := s.Transcript.Turns()

	var rec *ticket.Record
	var err error
	if s.Close.Call != nil {
		rec, err = oracle.FromClose(s.Close)
	} else {
		rec, err = m.extractor.Extract(ctx, turns, s.Close, "")
	}
	s.ExtractAttempts = 1

	if err != nil {
		log.Printf("closure: %s: extraction attempt 1 rejected: %v", s.Operator, err)
		m.step(s, EventExtractFailed)
		rec, err = m.extractor.Extract(ctx, turns, s.Close, rejection(err))
		s.ExtractAttempts = 2
	}

	if err != nil {
		log.Printf("closure: %s: extraction failed twice, using placeholder record: %v", s.Operator, err)
		metrics.Degraded.WithLabelValues("extract").Inc()
		placeholder := ticket.DegradedRecord(s.Close.FaultType(), s.Close.FinalReport)
		s.Record = &placeholder
		s.RecordDegraded = true
		m.step(s, EventExtractDegraded)
		return
	}
	s.Record = rec
	m.step(s, EventExtracted)
}

// audit fills s.Verdict. A malformed payload earns one strict retry; a failed
// call or a second malformed payload substitutes the placeholder verdict.
func (m *Machine) audit(ctx context.Context, s *Session) {
	turns := s.Transcript.Turns()
	reason := ""
	for attempt := 1; attempt <= 2; attempt++ {
		s.AuditAttempts = attempt
		v, err := m.auditor.Audit(ctx, turns, s.Record, reason)
		if err == nil {
			v.Enforce()
			s.Verdict = v
			m.step(s, EventAudited)
			return
		}
		log.Printf("closure: %s: audit attempt %d failed: %v", s.Operator, attempt, err)
		var pe *ticket.PayloadError
		if !errors.As(err, &pe) {
			break
		}
		reason = rejection(err)
	}

	metrics.Degraded.WithLabelValues("audit").Inc()
	placeholder := ticket.DegradedVerdict()
	s.Verdict = &placeholder
	s.VerdictDegraded = true
	m.step(s, EventAuditFailed)
}

// EditRecord replaces the record under review. Completeness is not
// re-checked; only the structural defaults are restored.
func (m *Machine) EditRecord(s *Session, rec ticket.Record) error {
	if err := m.step(s, EventEdit); err != nil {
		return err
	}
	edited := rec.Clone()
	edited.Normalize()
	s.Record = &edited
	return nil
}

// Submit writes the reviewed ticket to the store and resets the session.
// A store failure leaves the session in REVIEW so the operator can retry.
func (m *Machine) Submit(ctx context.Context, s *Session, engineer string) (uint, error) {
	if s.Phase != Review {
		return 0, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, EventSubmit, s.Phase)
	}
	engineer = strings.TrimSpace(engineer)
	if engineer == "" {
		return 0, ErrEngineerRequired
	}

	sub := store.Submission{
		Engineer:   engineer,
		Record:     s.Record.Clone(),
		Verdict:    *s.Verdict,
		Tail:       s.Transcript.Tail(m.tail),
		Transcript: s.Transcript.Turns(),
		Degraded:   s.Degraded(),
		CreatedAt:  m.now(),
	}
	id, err := m.store.Create(ctx, sub)
	if err != nil {
		metrics.Errors.WithLabelValues("closure", "store").Inc()
		log.Printf("closure: %s: submit failed, session kept in review: %v", s.Operator, err)
		return 0, fmt.Errorf("%w: %w", ErrStore, err)
	}

	m.step(s, EventSubmit)
	metrics.TicketsSubmitted.WithLabelValues(string(sub.Verdict.RiskLevel)).Inc()
	metrics.AuditScore.Observe(float64(sub.Verdict.OverallScore))
	log.Printf("closure: %s: ticket %d submitted by %s", s.Operator, id, engineer)

	for _, h := range m.hooks {
		if err := h.AfterSubmit(ctx, id, sub); err != nil {
			log.Printf("closure: ticket %d: after-submit hook: %v", id, err)
		}
	}

	m.step(s, EventReset)
	m.reset(s)
	return id, nil
}

// Abandon discards the session's progress and starts over.
func (m *Machine) Abandon(s *Session) error {
	if err := m.step(s, EventAbandon); err != nil {
		return err
	}
	m.reset(s)
	return nil
}

func (m *Machine) reset(s *Session) {
	s.Phase = Collecting
	s.Transcript.Reset()
	s.Close = nil
	s.Record = nil
	s.Verdict = nil
	s.RecordDegraded = false
	s.VerdictDegraded = false
	s.ExtractAttempts = 0
	s.AuditAttempts = 0
	s.StartedAt = m.now()
}

func (m *Machine) step(s *Session, e Event) error {
	to, err := Next(s.Phase, e)
	if err != nil {
		return err
	}
	metrics.PhaseTransitions.WithLabelValues(string(s.Phase), string(to)).Inc()
	s.Phase = to
	return nil
}

// rejection summarises why a payload was refused, for the strict re-prompt.
func rejection(err error) string {
	var pe *ticket.PayloadError
	if errors.As(err, &pe) {
		return strings.Join(pe.Problems, "; ")
	}
	return err.Error()
}
