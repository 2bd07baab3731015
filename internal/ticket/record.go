package ticket

import "strings"

// Unknown is the marker for a field the operator never stated. The reviewer
// is instructed to emit it, and normalisation fills it in for empty fields.
const Unknown = "未知"

// ReplacementRecord describes one swapped part. All fields are free text.
type ReplacementRecord struct {
	ReplaceTime string `json:"replace_time"`
	ActionInfo  string `json:"action_info"`
	NewType     string `json:"new_type"`
	NewQN       string `json:"new_qn"`
	OldType     string `json:"old_type"`
	OldQN       string `json:"old_qn"`
}

// Record is the structured ticket extracted from a closed conversation.
type Record struct {
	DeviceSN     string              `json:"device_sn"`
	ProductLine  string              `json:"product_line"`
	FaultType    string              `json:"fault_type"`
	StartTime    string              `json:"start_time"`
	EndTime      string              `json:"end_time"`
	FinalReport  string              `json:"final_report"`
	Replacements []ReplacementRecord `json:"replacements"`
}

// Normalize fills empty scalar fields with Unknown and guarantees
// Replacements is a non-nil slice. Replacement entries with every field
// blank are dropped; sparse ones are kept and filled.
func (r *Record) Normalize() {
	for _, f := range []*string{&r.DeviceSN, &r.ProductLine, &r.FaultType, &r.StartTime, &r.EndTime} {
		*f = orUnknown(*f)
	}
	r.FinalReport = strings.TrimSpace(r.FinalReport)
	kept := make([]ReplacementRecord, 0, len(r.Replacements))
	for _, rr := range r.Replacements {
		if rr.blank() {
			continue
		}
		rr.normalize()
		kept = append(kept, rr)
	}
	r.Replacements = kept
}

func (rr *ReplacementRecord) blank() bool {
	for _, f := range []string{rr.ReplaceTime, rr.ActionInfo, rr.NewType, rr.NewQN, rr.OldType, rr.OldQN} {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func (rr *ReplacementRecord) normalize() {
	for _, f := range []*string{&rr.ReplaceTime, &rr.ActionInfo, &rr.NewType, &rr.NewQN, &rr.OldType, &rr.OldQN} {
		*f = orUnknown(*f)
	}
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	if r.Replacements != nil {
		out.Replacements = make([]ReplacementRecord, len(r.Replacements))
		copy(out.Replacements, r.Replacements)
	}
	return out
}

// ValidateRecord checks a normalised record and returns a list of problems.
// An empty list means the record is usable.
func ValidateRecord(r *Record) []string {
	var problems []string
	if r.FaultType == "" {
		problems = append(problems, "fault_type is required")
	}
	if strings.TrimSpace(r.FinalReport) == "" || r.FinalReport == Unknown {
		problems = append(problems, "final_report is required")
	}
	if r.Replacements == nil {
		problems = append(problems, "replacements must be a list")
	}
	return problems
}

// DegradedRecord is the placeholder used when extraction keeps failing. The
// closing report and any fault type already known are preserved.
func DegradedRecord(faultType, finalReport string) Record {
	r := Record{
		FaultType:    faultType,
		FinalReport:  finalReport,
		Replacements: []ReplacementRecord{},
	}
	r.Normalize()
	return r
}

func orUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unknown
	}
	return s
}
