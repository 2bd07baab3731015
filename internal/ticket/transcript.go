// Package ticket defines the closure domain: the conversation transcript,
// the structured ticket record, and the audit verdict, together with the
// normalisation and validation rules every stage relies on.
package ticket

import (
	"errors"
	"fmt"
)

// Role identifies the speaker of a Turn.
type Role string

// Roles a Turn may carry.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ErrSystemTurn is returned when a caller tries to append a system turn.
var ErrSystemTurn = errors.New("ticket: system turn is fixed at index 0")

// ToolCall is the structured call a model made on an assistant turn.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Turn is one utterance in the conversation.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Tool    *ToolCall `json:"tool_metadata,omitempty"`
}

// Transcript is the ordered, append-only conversation for one closure
// session. The system prompt occupies index 0 for the transcript's lifetime.
type Transcript struct {
	turns []Turn
}

// NewTranscript creates a transcript holding only the system prompt.
func NewTranscript(systemPrompt string) *Transcript {
	return &Transcript{turns: []Turn{{Role: RoleSystem, Content: systemPrompt}}}
}

// Append adds turns to the end of the transcript. Either every turn is
// appended or none is.
func (t *Transcript) Append(turns ...Turn) error {
	for i, turn := range turns {
		switch turn.Role {
		case RoleUser, RoleAssistant, RoleTool:
		case RoleSystem:
			return ErrSystemTurn
		default:
			return fmt.Errorf("ticket: turn %d: unknown role %q", i, turn.Role)
		}
	}
	for _, turn := range turns {
		if turn.Tool != nil {
			tc := *turn.Tool
			turn.Tool = &tc
		}
		t.turns = append(t.turns, turn)
	}
	return nil
}

// Turns returns a copy of every turn, system prompt included.
func (t *Transcript) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns, system prompt included.
func (t *Transcript) Len() int {
	return len(t.turns)
}

// UserTurns counts the operator's turns.
func (t *Transcript) UserTurns() int {
	n := 0
	for _, turn := range t.turns {
		if turn.Role == RoleUser {
			n++
		}
	}
	return n
}

// SystemPrompt returns the content of the fixed first turn.
func (t *Transcript) SystemPrompt() string {
	return t.turns[0].Content
}

// Tail returns a copy of the last n non-system turns. n <= 0 returns all of them.
func (t *Transcript) Tail(n int) []Turn {
	body := t.turns[1:]
	if n > 0 && len(body) > n {
		body = body[len(body)-n:]
	}
	out := make([]Turn, len(body))
	copy(out, body)
	return out
}

// Last returns the final turn.
func (t *Transcript) Last() Turn {
	return t.turns[len(t.turns)-1]
}

// Clone returns an independent copy of the transcript.
func (t *Transcript) Clone() *Transcript {
	return &Transcript{turns: t.Turns()}
}

// Reset discards everything except the system prompt.
func (t *Transcript) Reset() {
	t.turns = t.turns[:1:1]
}
