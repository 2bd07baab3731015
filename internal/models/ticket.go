// Package models holds the GORM models persisted by the ticket store.
package models

import "time"

// Ticket is a submitted, human-confirmed closure record. Replacements and
// AICritique hold JSON; TranscriptArchive holds the zstd-compressed JSON of
// the full conversation.
type Ticket struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	EngineerName      string `gorm:"size:64;not null;index"`
	DeviceSN          string `gorm:"size:128;index"`
	ProductLine       string `gorm:"size:128"`
	FaultType         string `gorm:"size:128;index"`
	StartTime         string `gorm:"size:64"`
	EndTime           string `gorm:"size:64"`
	Replacements      string `gorm:"type:text"`
	FinalReport       string `gorm:"type:text"`
	AICritique        string `gorm:"type:text"`
	RiskLevel         string `gorm:"size:8;index"`
	OverallScore      int
	SOPViolation      bool   `gorm:"default:false;index"`
	Degraded          bool   `gorm:"default:false"`
	TranscriptTail    string `gorm:"type:text"`
	TranscriptArchive []byte
	TranscriptDigest  string    `gorm:"size:64"`
	CreatedAt         time.Time `gorm:"index"`
}
