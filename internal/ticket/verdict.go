package ticket

import (
	"fmt"
	"unicode/utf8"
)

// RiskLevel grades the operational risk of the repair as performed.
type RiskLevel string

// Risk levels.
const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Valid reports whether l is one of the known levels.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Rank orders levels from Low (1) to High (3). Unknown levels rank 0.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	}
	return 0
}

const (
	// ScoreCap is the highest score a verdict with a red-line violation or
	// High risk may carry.
	ScoreCap = 60
	// MaxCritiqueRunes bounds the critique text.
	MaxCritiqueRunes = 4000
	// GenerationFailed is the critique text of a degraded verdict.
	GenerationFailed = "generation failed"
)

// Verdict is the audit stage's judgement of a closed ticket.
type Verdict struct {
	RiskLevel    RiskLevel `json:"risk_level"`
	OverallScore int       `json:"overall_score"`
	SOPViolation bool      `json:"sop_violation"`
	CritiqueText string    `json:"critique_text"`
}

// Capped reports whether the score must not exceed ScoreCap.
func (v *Verdict) Capped() bool {
	return v.SOPViolation || v.RiskLevel == RiskHigh
}

// Enforce applies the scoring rules mechanically: the score is clamped to
// [0,100], capped at ScoreCap for red-line violations and High risk, and the
// critique is truncated to MaxCritiqueRunes.
func (v *Verdict) Enforce() {
	if v.OverallScore < 0 {
		v.OverallScore = 0
	}
	if v.OverallScore > 100 {
		v.OverallScore = 100
	}
	if v.Capped() && v.OverallScore > ScoreCap {
		v.OverallScore = ScoreCap
	}
	if utf8.RuneCountInString(v.CritiqueText) > MaxCritiqueRunes {
		v.CritiqueText = string([]rune(v.CritiqueText)[:MaxCritiqueRunes])
	}
}

// ValidateVerdict returns the problems with a decoded verdict.
func ValidateVerdict(v *Verdict) []string {
	var problems []string
	if !v.RiskLevel.Valid() {
		problems = append(problems, fmt.Sprintf("risk_level %q is not one of Low, Medium, High", v.RiskLevel))
	}
	if v.OverallScore < 0 || v.OverallScore > 100 {
		problems = append(problems, fmt.Sprintf("overall_score %d is outside 0..100", v.OverallScore))
	}
	if v.CritiqueText == "" {
		problems = append(problems, "critique_text is required")
	}
	return problems
}

// DegradedVerdict is substituted when the audit stage cannot produce a verdict.
func DegradedVerdict() Verdict {
	return Verdict{
		RiskLevel:    RiskMedium,
		OverallScore: 0,
		SOPViolation: false,
		CritiqueText: GenerationFailed,
	}
}
