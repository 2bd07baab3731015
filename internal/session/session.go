// Package session keeps one live closure session per operator and serialises
// access to it. A second request for an operator whose session is busy is
// refused rather than queued.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/zulandar/closeout/internal/closure"
	"github.com/zulandar/closeout/internal/metrics"
	"github.com/zulandar/closeout/internal/ticket"
)

var (
	// ErrNoSession is returned for an operator without a live session.
	ErrNoSession = errors.New("session: no active session")
	// ErrBusy is returned while another request holds the operator's session.
	ErrBusy = errors.New("session: session is busy")
	// ErrOperatorRequired is returned for a blank operator name.
	ErrOperatorRequired = errors.New("session: operator is required")
)

// Manager tracks live sessions by operator.
type Manager struct {
	machine *closure.Machine

	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	session *closure.Session
}

// NewManager creates a Manager backed by machine.
func NewManager(machine *closure.Machine) (*Manager, error) {
	if machine == nil {
		return nil, fmt.Errorf("session: machine is required")
	}
	return &Manager{
		machine:  machine,
		sessions: make(map[string]*entry),
	}, nil
}

// Start returns the operator's live session, creating one if needed.
// created reports whether a new session was made.
func (m *Manager) Start(operator string) (view closure.View, created bool, err error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return closure.View{}, false, ErrOperatorRequired
	}

	m.mu.Lock()
	e, ok := m.sessions[operator]
	if !ok {
		e = &entry{session: m.machine.NewSession(operator)}
		m.sessions[operator] = e
		metrics.SessionsActive.Inc()
		log.Printf("session: started for %s", operator)
	}
	m.mu.Unlock()

	err = m.with(e, func(s *closure.Session) error {
		view = s.Snapshot()
		return nil
	})
	return view, !ok, err
}

// Get returns a snapshot of the operator's session.
func (m *Manager) Get(operator string) (closure.View, error) {
	var view closure.View
	err := m.With(operator, func(s *closure.Session) error {
		view = s.Snapshot()
		return nil
	})
	return view, err
}

// With runs fn while holding the operator's session. It fails fast with
// ErrBusy if another caller holds it.
func (m *Manager) With(operator string, fn func(*closure.Session) error) error {
	e, err := m.lookup(operator)
	if err != nil {
		return err
	}
	return m.with(e, fn)
}

func (m *Manager) with(e *entry, fn func(*closure.Session) error) error {
	if !e.mu.TryLock() {
		return ErrBusy
	}
	defer e.mu.Unlock()
	return fn(e.session)
}

func (m *Manager) lookup(operator string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[strings.TrimSpace(operator)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %q", ErrNoSession, operator)
	}
	return e, nil
}

// Turn feeds one utterance into the operator's session.
func (m *Manager) Turn(ctx context.Context, operator, text string) (*closure.TurnResult, closure.View, error) {
	var res *closure.TurnResult
	var view closure.View
	err := m.With(operator, func(s *closure.Session) error {
		var err error
		res, err = m.machine.HandleTurn(ctx, s, text)
		view = s.Snapshot()
		return err
	})
	return res, view, err
}

// Edit replaces the record under review.
func (m *Manager) Edit(operator string, rec ticket.Record) (closure.View, error) {
	var view closure.View
	err := m.With(operator, func(s *closure.Session) error {
		if err := m.machine.EditRecord(s, rec); err != nil {
			return err
		}
		view = s.Snapshot()
		return nil
	})
	return view, err
}

// Submit stores the reviewed ticket. The session stays live, reset to
// COLLECTING, so the operator can start the next report.
func (m *Manager) Submit(ctx context.Context, operator, engineer string) (uint, error) {
	var id uint
	err := m.With(operator, func(s *closure.Session) error {
		var err error
		id, err = m.machine.Submit(ctx, s, engineer)
		return err
	})
	return id, err
}

// Abandon discards the operator's session entirely.
func (m *Manager) Abandon(operator string) error {
	e, err := m.lookup(operator)
	if err != nil {
		return err
	}
	if !e.mu.TryLock() {
		return ErrBusy
	}
	defer e.mu.Unlock()

	if e.session.Phase != closure.Collecting || e.session.Transcript.Len() > 1 {
		if err := m.machine.Abandon(e.session); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if m.sessions[e.session.Operator] == e {
		delete(m.sessions, e.session.Operator)
		metrics.SessionsActive.Dec()
	}
	m.mu.Unlock()
	log.Printf("session: abandoned for %s", e.session.Operator)
	return nil
}

// Active returns the operators with a live session, sorted.
func (m *Manager) Active() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for op := range m.sessions {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}
