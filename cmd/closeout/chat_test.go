package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/zulandar/closeout/internal/store"
	"github.com/zulandar/closeout/internal/ticket"
)

func runREPL(t *testing.T, a *app, input string) string {
	t.Helper()
	out := new(bytes.Buffer)
	r := newREPL(a.machine, "wang", out)
	in := &scannerReader{s: bufio.NewScanner(strings.NewReader(input)), out: io.Discard, prompt: "> "}
	if err := r.run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	return out.String()
}

func TestREPL_CloseEditSubmit(t *testing.T) {
	a := testApp(t, "")
	out := runREPL(t, a, strings.Join([]string{
		"DIMM A2 纠错风暴，重插无效后更换，memtest 通过",
		"/set product_line=R760",
		"/repl 2 old_qn=QN-9",
		"/submit li",
		"/quit",
	}, "\n"))

	for _, want := range []string{"The report is complete", "R760", "QN-9", "Ticket #1 stored"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	rows, err := a.store.List(context.Background(), store.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("stored %d tickets, want 1", len(rows))
	}
	if rows[0].EngineerName != "li" || rows[0].ProductLine != "R760" {
		t.Errorf("row = %+v", rows[0])
	}
}

func TestREPL_SubmitDefaultsToOperator(t *testing.T) {
	a := testApp(t, "")
	runREPL(t, a, "replaced DIMM A2 after reseat failed\n/submit\n")

	rows, err := a.store.List(context.Background(), store.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].EngineerName != "wang" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestREPL_Errors(t *testing.T) {
	a := testApp(t, "")
	out := runREPL(t, a, strings.Join([]string{
		"/set device_sn=X",
		"/submit",
		"/bogus",
		"/repl x a=b",
	}, "\n"))

	for _, want := range []string{
		"error: nothing to edit in phase COLLECTING",
		"error: closure:",
		"error: unknown command /bogus",
		"error: usage: /repl N FIELD=VALUE",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestREPL_HelpShowAbandon(t *testing.T) {
	a := testApp(t, "")
	out := runREPL(t, a, "/help\n/show\n/abandon\n")
	if !strings.Contains(out, "Commands:") {
		t.Errorf("missing help:\n%s", out)
	}
	if !strings.Contains(out, "no ticket yet") {
		t.Errorf("missing empty show:\n%s", out)
	}
	if !strings.Contains(out, "Session discarded") {
		t.Errorf("missing abandon:\n%s", out)
	}
}

// ----- field editing tests -----

func TestSetField(t *testing.T) {
	rec := ticket.Record{}
	if err := setField(&rec, "device_sn = SN-1"); err != nil {
		t.Fatal(err)
	}
	if err := setField(&rec, "final_report=a=b"); err != nil {
		t.Fatal(err)
	}
	if rec.DeviceSN != "SN-1" || rec.FinalReport != "a=b" {
		t.Errorf("rec = %+v", rec)
	}
	if err := setField(&rec, "colour=red"); err == nil {
		t.Error("expected error for unknown field")
	}
	if err := setField(&rec, "device_sn"); err == nil {
		t.Error("expected error for missing '='")
	}
}

func TestSetReplacementField(t *testing.T) {
	rec := ticket.Record{Replacements: []ticket.ReplacementRecord{{OldQN: "Q1"}}}

	if err := setReplacementField(&rec, 1, "new_qn=Q2"); err != nil {
		t.Fatal(err)
	}
	if rec.Replacements[0].OldQN != "Q1" || rec.Replacements[0].NewQN != "Q2" {
		t.Errorf("replacement 1 = %+v", rec.Replacements[0])
	}

	if err := setReplacementField(&rec, 2, "old_type=PSU"); err != nil {
		t.Fatal(err)
	}
	if len(rec.Replacements) != 2 || rec.Replacements[1].OldType != "PSU" {
		t.Errorf("replacements = %+v", rec.Replacements)
	}

	for _, n := range []int{0, 4} {
		if err := setReplacementField(&rec, n, "old_qn=x"); err == nil {
			t.Errorf("n=%d: expected out of range error", n)
		}
	}
	if err := setReplacementField(&rec, 1, "serial=x"); err == nil {
		t.Error("expected error for unknown field")
	}
}
