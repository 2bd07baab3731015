package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulandar/closeout/internal/models"
	"github.com/zulandar/closeout/internal/ticket"
)

// TicketView is a decoded ticket row for API and CLI output.
type TicketView struct {
	ID         uint           `json:"id"`
	Engineer   string         `json:"engineer_name"`
	Record     ticket.Record  `json:"record"`
	Verdict    ticket.Verdict `json:"ai_critique"`
	Degraded   bool           `json:"degraded"`
	Tail       []ticket.Turn  `json:"transcript_tail,omitempty"`
	Transcript []ticket.Turn  `json:"transcript,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Decode turns a row into a TicketView. With full set, the tail and the
// archived transcript are decoded as well; the row must then have been
// loaded with Get.
func Decode(row *models.Ticket, full bool) (*TicketView, error) {
	rec, err := Record(row)
	if err != nil {
		return nil, err
	}
	v, err := Critique(row)
	if err != nil {
		return nil, err
	}
	view := &TicketView{
		ID:        row.ID,
		Engineer:  row.EngineerName,
		Record:    rec,
		Verdict:   v,
		Degraded:  row.Degraded,
		CreatedAt: row.CreatedAt,
	}
	if !full {
		return view, nil
	}
	if row.TranscriptTail != "" {
		if err := json.Unmarshal([]byte(row.TranscriptTail), &view.Tail); err != nil {
			return nil, fmt.Errorf("store: ticket %d transcript tail: %w", row.ID, err)
		}
	}
	if len(row.TranscriptArchive) > 0 {
		turns, err := Transcript(row)
		if err != nil {
			return nil, err
		}
		view.Transcript = turns
	}
	return view, nil
}
