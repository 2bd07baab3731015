// Package store persists confirmed tickets and the reasoning-model call log.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/closeout/internal/models"
	"github.com/zulandar/closeout/internal/ticket"
	"gorm.io/gorm"
)

// Default and maximum page sizes for List.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ErrNotFound is returned when a ticket id does not exist.
var ErrNotFound = errors.New("store: ticket not found")

// Submission is everything the closure machine hands over when the operator
// confirms a ticket.
type Submission struct {
	Engineer   string
	Record     ticket.Record
	Verdict    ticket.Verdict
	Tail       []ticket.Turn
	Transcript []ticket.Turn
	Degraded   bool
	CreatedAt  time.Time
}

// Filter narrows List results.
type Filter struct {
	Engineer string
	Limit    int
}

// Store is the gorm-backed ticket store.
type Store struct {
	db *gorm.DB
}

// New creates a Store on an already migrated database.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying connection for callers that share it.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Create writes a submission as one ticket row and returns its id. Ids are
// assigned by the database and strictly increase.
func (s *Store) Create(ctx context.Context, sub Submission) (uint, error) {
	if strings.TrimSpace(sub.Engineer) == "" {
		return 0, fmt.Errorf("store: engineer name is required")
	}
	row, err := toRow(sub)
	if err != nil {
		return 0, err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("store: create ticket: %w", err)
	}
	return row.ID, nil
}

func toRow(sub Submission) (models.Ticket, error) {
	rec := sub.Record.Clone()
	rec.Normalize()
	replacements, err := json.Marshal(rec.Replacements)
	if err != nil {
		return models.Ticket{}, fmt.Errorf("store: marshal replacements: %w", err)
	}
	critique, err := json.Marshal(sub.Verdict)
	if err != nil {
		return models.Ticket{}, fmt.Errorf("store: marshal critique: %w", err)
	}
	tail := sub.Tail
	if tail == nil {
		tail = []ticket.Turn{}
	}
	tailJSON, err := json.Marshal(tail)
	if err != nil {
		return models.Ticket{}, fmt.Errorf("store: marshal transcript tail: %w", err)
	}
	archive, digest, err := packTranscript(sub.Transcript)
	if err != nil {
		return models.Ticket{}, err
	}
	created := sub.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return models.Ticket{
		EngineerName:      strings.TrimSpace(sub.Engineer),
		DeviceSN:          rec.DeviceSN,
		ProductLine:       rec.ProductLine,
		FaultType:         rec.FaultType,
		StartTime:         rec.StartTime,
		EndTime:           rec.EndTime,
		Replacements:      string(replacements),
		FinalReport:       rec.FinalReport,
		AICritique:        string(critique),
		RiskLevel:         string(sub.Verdict.RiskLevel),
		OverallScore:      sub.Verdict.OverallScore,
		SOPViolation:      sub.Verdict.SOPViolation,
		Degraded:          sub.Degraded,
		TranscriptTail:    string(tailJSON),
		TranscriptArchive: archive,
		TranscriptDigest:  digest,
		CreatedAt:         created,
	}, nil
}

// List returns tickets newest first, optionally for a single engineer.
func (s *Store) List(ctx context.Context, f Filter) ([]models.Ticket, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	q := s.db.WithContext(ctx).Omit("transcript_archive")
	if f.Engineer != "" {
		q = q.Where("engineer_name = ?", f.Engineer)
	}
	var rows []models.Ticket
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list tickets: %w", err)
	}
	return rows, nil
}

// Get loads one ticket, archive included.
func (s *Store) Get(ctx context.Context, id uint) (*models.Ticket, error) {
	var row models.Ticket
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get ticket %d: %w", id, err)
	}
	return &row, nil
}

// Since returns every ticket created at or after t, oldest first.
func (s *Store) Since(ctx context.Context, t time.Time) ([]models.Ticket, error) {
	var rows []models.Ticket
	err := s.db.WithContext(ctx).Omit("transcript_archive").
		Where("created_at >= ?", t).Order("created_at").Order("id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: tickets since %s: %w", t.Format(time.RFC3339), err)
	}
	return rows, nil
}

// Replacements decodes the stored replacement list, preserving order.
func Replacements(row *models.Ticket) ([]ticket.ReplacementRecord, error) {
	out := []ticket.ReplacementRecord{}
	if row.Replacements == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(row.Replacements), &out); err != nil {
		return nil, fmt.Errorf("store: ticket %d replacements: %w", row.ID, err)
	}
	return out, nil
}

// Critique decodes the stored audit verdict.
func Critique(row *models.Ticket) (ticket.Verdict, error) {
	var v ticket.Verdict
	if err := json.Unmarshal([]byte(row.AICritique), &v); err != nil {
		return v, fmt.Errorf("store: ticket %d critique: %w", row.ID, err)
	}
	return v, nil
}

// Record rebuilds the ticket record stored in row.
func Record(row *models.Ticket) (ticket.Record, error) {
	repl, err := Replacements(row)
	if err != nil {
		return ticket.Record{}, err
	}
	return ticket.Record{
		DeviceSN:     row.DeviceSN,
		ProductLine:  row.ProductLine,
		FaultType:    row.FaultType,
		StartTime:    row.StartTime,
		EndTime:      row.EndTime,
		FinalReport:  row.FinalReport,
		Replacements: repl,
	}, nil
}

// Transcript decompresses the archived conversation and verifies its digest.
func Transcript(row *models.Ticket) ([]ticket.Turn, error) {
	if len(row.TranscriptArchive) == 0 {
		return nil, fmt.Errorf("store: ticket %d has no transcript archive", row.ID)
	}
	turns, err := unpackTranscript(row.TranscriptArchive, row.TranscriptDigest)
	if err != nil {
		return nil, fmt.Errorf("store: ticket %d: %w", row.ID, err)
	}
	return turns, nil
}
