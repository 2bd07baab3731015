package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/zulandar/closeout/internal/ticket"
)

// Sentinel marks a free-text close from models that cannot call tools.
// Everything after it is the final report.
const Sentinel = "[[TICKET_CLOSED]]"

// PromptOpts parameterises the interview system prompt.
type PromptOpts struct {
	Language       string
	LegacySentinel bool
}

var interviewTmpl = template.Must(template.New("interview").Parse(`You are a senior hardware-repair reviewer helping a field engineer close a repair ticket.
Reply in {{.Language}}. Be collegial and brief.

Judge the engineer's account against the PIA model:
- Phenomenon: what failed, the trigger, and the concrete error identifier (XID, SEL entry, POST code, log line).
- Intervention: every action taken. Every replaced part needs cross-validation: the suspect part was moved to
  another slot or host and the error followed it, or a known-good part was swapped in and the error cleared.
  Record old and new part type and serial/QN for each replacement.
- As-is: the final verified state (burn-in, stress test, customer sign-off).

While anything is missing, ask at most two targeted follow-up questions. Never list this rubric back to the engineer.
When the account is complete, call {{.Tool}} with a complete final_report. Use "{{.Unknown}}" for any field the engineer never stated.
{{- if .LegacySentinel}}
If you cannot call tools, reply with {{.Sentinel}} followed by the complete final report instead.
{{- end}}
`))

var auditTmpl = template.Must(template.New("audit").Parse(`以下是最终提取的工单结构化数据：
{{.Record}}

Audit this repair as an SOP reviewer. Reply in {{.Language}} inside the critique.
Score out of 100 with these weights:
- Completeness of the report (20%).
- Diagnostic rigor: logs inspected before disassembly, cross-validation of every replaced part (40%).
- Cost and safety: no unnecessary replacements, ESD-safe handling, no collateral damage (40%).

Red lines. Any one of them sets sop_violation=true and the score must not exceed {{.Cap}}:
- Disassembly or replacement without first checking diagnostic logs.
- Swapping parts across sockets or hosts with no supporting evidence.
- Non-ESD-safe handling that caused a secondary fault.
High risk also caps the score at {{.Cap}}.

Call {{.Tool}} with your verdict.
`))

const extractInstruction = `The dialogue above is complete. Call ` + ticket.SubmitTicketTool + ` exactly once with the structured ticket.
Copy serial numbers and QNs verbatim. Use "` + ticket.Unknown + `" for any field the engineer never stated.
replacements must be a list; use [] when nothing was replaced.`

const strictInstruction = `Your previous ticket payload was rejected: %s
Call ` + ticket.SubmitTicketTool + ` again. The arguments must be a single JSON object with string fields only,
"fault_type" and "final_report" must be non-empty, and "replacements" must be a JSON array (possibly []).
Do not answer in text.`

const strictCritiqueInstruction = `Your previous verdict payload was rejected: %s
Call ` + ticket.SubmitCritiqueTool + ` again with risk_level one of Low, Medium, High, an integer overall_score in 0..100,
a boolean sop_violation and a non-empty critique_text. Do not answer in text.`

// InterviewPrompt renders the system prompt that opens every transcript.
func InterviewPrompt(opts PromptOpts) (string, error) {
	if opts.Language == "" {
		opts.Language = "zh-CN"
	}
	var buf bytes.Buffer
	err := interviewTmpl.Execute(&buf, map[string]any{
		"Language":       opts.Language,
		"LegacySentinel": opts.LegacySentinel,
		"Sentinel":       Sentinel,
		"Tool":           ticket.SubmitTicketTool,
		"Unknown":        ticket.Unknown,
	})
	if err != nil {
		return "", fmt.Errorf("oracle: render interview prompt: %w", err)
	}
	return buf.String(), nil
}

func auditPrompt(rec *ticket.Record, language string) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("oracle: marshal record for audit: %w", err)
	}
	var buf bytes.Buffer
	err = auditTmpl.Execute(&buf, map[string]any{
		"Record":   string(data),
		"Language": language,
		"Cap":      ticket.ScoreCap,
		"Tool":     ticket.SubmitCritiqueTool,
	})
	if err != nil {
		return "", fmt.Errorf("oracle: render audit prompt: %w", err)
	}
	return buf.String(), nil
}
