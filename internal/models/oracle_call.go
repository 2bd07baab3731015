package models

import "time"

// OracleCall records one reasoning-model invocation for debugging and cost
// tracking. Message content is not stored.
type OracleCall struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Operator     string `gorm:"size:64;index:idx_operator_stage"`
	Stage        string `gorm:"size:16;index:idx_operator_stage"`
	Model        string `gorm:"size:64"`
	Outcome      string `gorm:"size:8"`
	ToolName     string `gorm:"size:64"`
	InputTokens  int
	OutputTokens int
	LatencyMs    int
	Error        string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"index"`
}
