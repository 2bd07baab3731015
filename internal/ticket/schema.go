package ticket

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Tool names the reviewer uses to hand back structured payloads.
const (
	SubmitTicketTool   = "submit_resolved_ticket"
	SubmitCritiqueTool = "submit_audit_critique"
)

// recordSchemaJSON describes the submit_resolved_ticket arguments. It is both
// the tool declaration sent to the model and the validator for its reply.
const recordSchemaJSON = `{
  "type": "object",
  "properties": {
    "device_sn": {"type": "string", "description": "设备序列号 (SN)，未提及填 '未知'"},
    "product_line": {"type": "string", "description": "产品线或服务器型号，未提及填 '未知'"},
    "fault_type": {"type": "string", "description": "故障分类，例如 GPU故障、主板故障、内存故障、线缆故障"},
    "start_time": {"type": "string", "description": "维修开始时间，未提及填 '未知'"},
    "end_time": {"type": "string", "description": "维修结束时间，未提及填 '未知'"},
    "final_report": {"type": "string", "minLength": 1, "description": "完整的维修报告：现象、排查与干预、最终状态"},
    "replacements": {
      "type": "array",
      "description": "更换的部件清单，没有更换则为空数组",
      "items": {
        "type": "object",
        "properties": {
          "replace_time": {"type": "string", "description": "更换时间"},
          "action_info": {"type": "string", "description": "更换动作说明"},
          "new_type": {"type": "string", "description": "新部件型号"},
          "new_qn": {"type": "string", "description": "新部件 QN/序列号"},
          "old_type": {"type": "string", "description": "旧部件型号"},
          "old_qn": {"type": "string", "description": "旧部件 QN/序列号"}
        }
      }
    }
  },
  "required": ["fault_type", "final_report", "replacements"]
}`

// verdictSchemaJSON describes the submit_audit_critique arguments.
const verdictSchemaJSON = `{
  "type": "object",
  "properties": {
    "risk_level": {"type": "string", "enum": ["Low", "Medium", "High"], "description": "维修操作的风险等级"},
    "overall_score": {"type": "integer", "minimum": 0, "maximum": 100, "description": "综合评分，触犯红线或高风险时不得高于 60"},
    "sop_violation": {"type": "boolean", "description": "是否触犯 SOP 红线"},
    "critique_text": {"type": "string", "minLength": 1, "description": "给工程师的点评，指出亮点与改进点"}
  },
  "required": ["risk_level", "overall_score", "sop_violation", "critique_text"]
}`

var schemaPrinter = message.NewPrinter(language.English)

var (
	recordSchema  = mustCompileSchema(recordSchemaJSON, "submit_resolved_ticket.json")
	verdictSchema = mustCompileSchema(verdictSchemaJSON, "submit_audit_critique.json")
)

func mustCompileSchema(raw, name string) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		panic(fmt.Sprintf("ticket: parse %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("ticket: add %s: %v", name, err))
	}
	sch, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("ticket: compile %s: %v", name, err))
	}
	return sch
}

// RecordParameters returns a fresh copy of the submit_resolved_ticket
// parameter schema for a tool declaration.
func RecordParameters() map[string]any {
	return schemaDoc(recordSchemaJSON)
}

// VerdictParameters returns a fresh copy of the submit_audit_critique
// parameter schema for a tool declaration.
func VerdictParameters() map[string]any {
	return schemaDoc(verdictSchemaJSON)
}

func schemaDoc(raw string) map[string]any {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		panic(fmt.Sprintf("ticket: parse schema: %v", err))
	}
	return doc
}

// PayloadError reports a structured payload that could not be decoded.
type PayloadError struct {
	Tool     string
	Problems []string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("ticket: malformed %s payload: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// DecodeRecord parses, schema-validates, normalises and checks the arguments
// of a submit_resolved_ticket call.
func DecodeRecord(args string) (*Record, error) {
	if err := validatePayload(recordSchema, SubmitTicketTool, args); err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal([]byte(args), &r); err != nil {
		return nil, &PayloadError{Tool: SubmitTicketTool, Problems: []string{err.Error()}}
	}
	r.Normalize()
	if problems := ValidateRecord(&r); len(problems) > 0 {
		return nil, &PayloadError{Tool: SubmitTicketTool, Problems: problems}
	}
	return &r, nil
}

// DecodeVerdict parses and validates the arguments of a submit_audit_critique
// call, then enforces the scoring rules.
func DecodeVerdict(args string) (*Verdict, error) {
	if err := validatePayload(verdictSchema, SubmitCritiqueTool, args); err != nil {
		return nil, err
	}
	// Models sometimes write whole scores as 85.0, which the schema accepts
	// as an integer but encoding/json will not put into an int.
	var w struct {
		Verdict
		OverallScore float64 `json:"overall_score"`
	}
	if err := json.Unmarshal([]byte(args), &w); err != nil {
		return nil, &PayloadError{Tool: SubmitCritiqueTool, Problems: []string{err.Error()}}
	}
	if w.OverallScore != math.Trunc(w.OverallScore) {
		return nil, &PayloadError{Tool: SubmitCritiqueTool, Problems: []string{"overall_score must be a whole number"}}
	}
	v := w.Verdict
	v.OverallScore = int(w.OverallScore)
	if problems := ValidateVerdict(&v); len(problems) > 0 {
		return nil, &PayloadError{Tool: SubmitCritiqueTool, Problems: problems}
	}
	v.Enforce()
	return &v, nil
}

// PeekString pulls a single string field out of raw tool arguments without
// validating the rest. Used to salvage fields from payloads that failed
// full decoding.
func PeekString(args, field string) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(args), &m); err != nil {
		return ""
	}
	s, _ := m[field].(string)
	return strings.TrimSpace(s)
}

func validatePayload(sch *jsonschema.Schema, tool, args string) error {
	var instance any
	if err := json.Unmarshal([]byte(args), &instance); err != nil {
		return &PayloadError{Tool: tool, Problems: []string{"not valid JSON: " + err.Error()}}
	}
	err := sch.Validate(instance)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &PayloadError{Tool: tool, Problems: []string{err.Error()}}
	}
	var problems []string
	collectSchemaErrors(ve, &problems)
	return &PayloadError{Tool: tool, Problems: problems}
}

func collectSchemaErrors(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/"
		if len(ve.InstanceLocation) > 0 {
			loc = "/" + strings.Join(ve.InstanceLocation, "/")
		}
		*out = append(*out, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(schemaPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, out)
	}
}
