package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/closeout/internal/models"
	"github.com/zulandar/closeout/internal/ticket"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Ticket{}, &models.OracleCall{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(testDB(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func sampleSubmission(engineer string, at time.Time) Submission {
	return Submission{
		Engineer: engineer,
		Record: ticket.Record{
			DeviceSN:    "SN-0042",
			ProductLine: "G8600",
			FaultType:   "GPU故障",
			FinalReport: "GPU3 XID79; swapped slots 3 and 5, fault followed the card; replaced; burn-in clean",
			Replacements: []ticket.ReplacementRecord{
				{NewType: "H100", NewQN: "QN-NEW-1", OldType: "H100", OldQN: "QN-OLD-1"},
				{NewType: "riser", NewQN: "QN-NEW-2", OldType: "riser", OldQN: "QN-OLD-2"},
			},
		},
		Verdict: ticket.Verdict{RiskLevel: ticket.RiskLow, OverallScore: 92, CritiqueText: "交叉验证到位"},
		Tail: []ticket.Turn{
			{Role: ticket.RoleUser, Content: "swapped and burned in"},
			{Role: ticket.RoleAssistant, Content: "closing", Tool: &ticket.ToolCall{Name: ticket.SubmitTicketTool, Arguments: "{}"}},
		},
		Transcript: []ticket.Turn{
			{Role: ticket.RoleSystem, Content: "sys"},
			{Role: ticket.RoleUser, Content: "swapped and burned in"},
			{Role: ticket.RoleAssistant, Content: "closing"},
		},
		CreatedAt: at,
	}
}

// ----- Create tests -----

func TestNew_RequiresDB(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestCreate_AssignsIncreasingIDs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()
	id1, err := s.Create(ctx, sampleSubmission("wang", now))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id2, err := s.Create(ctx, sampleSubmission("li", now))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id1 == 0 || id2 <= id1 {
		t.Errorf("ids = %d, %d, want strictly increasing", id1, id2)
	}
}

func TestCreate_RequiresEngineer(t *testing.T) {
	s := testStore(t)
	if _, err := s.Create(context.Background(), sampleSubmission("  ", time.Now())); err == nil {
		t.Fatal("expected error for blank engineer")
	}
}

func TestCreate_RoundTripsFields(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	sub := sampleSubmission("wang", time.Now())
	sub.Degraded = true
	id, err := s.Create(ctx, sub)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	row, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row.EngineerName != "wang" {
		t.Errorf("EngineerName = %q, want wang", row.EngineerName)
	}
	if row.FaultType != "GPU故障" {
		t.Errorf("FaultType = %q, want GPU故障", row.FaultType)
	}
	if row.StartTime != ticket.Unknown {
		t.Errorf("StartTime = %q, want %q", row.StartTime, ticket.Unknown)
	}
	if row.RiskLevel != "Low" || row.OverallScore != 92 {
		t.Errorf("RiskLevel/OverallScore = %q/%d", row.RiskLevel, row.OverallScore)
	}
	if !row.Degraded {
		t.Error("Degraded = false, want true")
	}

	rec, err := Record(row)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(rec.Replacements) != 2 {
		t.Fatalf("len(Replacements) = %d, want 2", len(rec.Replacements))
	}
	if rec.Replacements[0].NewQN != "QN-NEW-1" || rec.Replacements[1].NewQN != "QN-NEW-2" {
		t.Errorf("replacement order not preserved: %+v", rec.Replacements)
	}
	if rec.Replacements[0].ReplaceTime != ticket.Unknown {
		t.Errorf("ReplaceTime = %q, want %q", rec.Replacements[0].ReplaceTime, ticket.Unknown)
	}

	v, err := Critique(row)
	if err != nil {
		t.Fatalf("Critique: %v", err)
	}
	if v.CritiqueText != "交叉验证到位" {
		t.Errorf("CritiqueText = %q", v.CritiqueText)
	}

	turns, err := Transcript(row)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(turns) != 3 || turns[0].Role != ticket.RoleSystem {
		t.Errorf("Transcript() = %+v", turns)
	}
}

func TestCreate_EmptyReplacementsStoredAsList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	sub := sampleSubmission("wang", time.Now())
	sub.Record.Replacements = nil
	id, err := s.Create(ctx, sub)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	row, _ := s.Get(ctx, id)
	if row.Replacements != "[]" {
		t.Errorf("Replacements column = %q, want []", row.Replacements)
	}
}

// ----- Query tests -----

func TestList_NewestFirstAndFiltered(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.Create(ctx, sampleSubmission("wang", base))
	s.Create(ctx, sampleSubmission("li", base.Add(time.Hour)))
	newest, _ := s.Create(ctx, sampleSubmission("wang", base.Add(2*time.Hour)))

	all, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(List) = %d, want 3", len(all))
	}
	if all[0].ID != newest {
		t.Errorf("List()[0].ID = %d, want newest %d", all[0].ID, newest)
	}
	if len(all[0].TranscriptArchive) != 0 {
		t.Error("List should not load transcript archives")
	}

	mine, err := s.List(ctx, Filter{Engineer: "wang"})
	if err != nil {
		t.Fatalf("List(wang): %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("len(List(wang)) = %d, want 2", len(mine))
	}
	for _, row := range mine {
		if row.EngineerName != "wang" {
			t.Errorf("EngineerName = %q, want wang", row.EngineerName)
		}
	}

	one, _ := s.List(ctx, Filter{Limit: 1})
	if len(one) != 1 {
		t.Errorf("len(List(limit 1)) = %d, want 1", len(one))
	}
}

func TestList_SameTimestampOrdersByID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first, _ := s.Create(ctx, sampleSubmission("wang", at))
	second, _ := s.Create(ctx, sampleSubmission("wang", at))
	rows, _ := s.List(ctx, Filter{})
	if rows[0].ID != second || rows[1].ID != first {
		t.Errorf("order = %d,%d, want %d,%d", rows[0].ID, rows[1].ID, second, first)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(999) error = %v, want ErrNotFound", err)
	}
}

func TestSince(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.Create(ctx, sampleSubmission("wang", base.Add(-48*time.Hour)))
	s.Create(ctx, sampleSubmission("li", base))
	rows, err := s.Since(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(rows) != 1 || rows[0].EngineerName != "li" {
		t.Errorf("Since() = %+v, want only li", rows)
	}
}

// ----- Archive tests -----

func TestTranscript_DigestMismatch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id, _ := s.Create(ctx, sampleSubmission("wang", time.Now()))
	row, _ := s.Get(ctx, id)
	row.TranscriptDigest = "00"
	if _, err := Transcript(row); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("Transcript() error = %v, want ErrDigestMismatch", err)
	}
}

func TestPackTranscript_RoundTrip(t *testing.T) {
	turns := []ticket.Turn{{Role: ticket.RoleUser, Content: "风扇异响，更换后正常"}}
	archive, digest, err := packTranscript(turns)
	if err != nil {
		t.Fatalf("packTranscript: %v", err)
	}
	if len(digest) != 64 {
		t.Errorf("len(digest) = %d, want 64", len(digest))
	}
	got, err := unpackTranscript(archive, digest)
	if err != nil {
		t.Fatalf("unpackTranscript: %v", err)
	}
	if len(got) != 1 || got[0].Content != turns[0].Content {
		t.Errorf("unpackTranscript() = %+v", got)
	}
}

func TestTranscript_MissingArchive(t *testing.T) {
	if _, err := Transcript(&models.Ticket{ID: 7}); err == nil {
		t.Fatal("expected error for missing archive")
	}
}

// ----- Call log tests -----

func TestRecordCallAndStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	since := time.Now().Add(-time.Minute)
	calls := []models.OracleCall{
		{Operator: "wang", Stage: "interview", Outcome: "text", InputTokens: 100, OutputTokens: 20},
		{Operator: "wang", Stage: "interview", Outcome: "error", Error: "timeout"},
		{Operator: "wang", Stage: "audit", Outcome: "call", ToolName: ticket.SubmitCritiqueTool, InputTokens: 300, OutputTokens: 80},
	}
	for _, c := range calls {
		if err := s.RecordCall(ctx, c); err != nil {
			t.Fatalf("RecordCall: %v", err)
		}
	}
	stats, err := s.CallStatsBetween(ctx, since, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("CallStatsBetween: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("len(stats) = %d, want 2", len(stats))
	}
	if stats[0].Stage != "audit" || stats[0].InputTokens != 300 {
		t.Errorf("stats[0] = %+v", stats[0])
	}
	if stats[1].Stage != "interview" || stats[1].Calls != 2 || stats[1].Errors != 1 {
		t.Errorf("stats[1] = %+v", stats[1])
	}
}

// ----- Decode tests -----

func TestDecode(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, sampleSubmission("wang", time.Now()))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rows, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	brief, err := Decode(&rows[0], false)
	if err != nil {
		t.Fatalf("Decode(brief): %v", err)
	}
	if brief.ID != id || brief.Engineer != "wang" || len(brief.Record.Replacements) != 2 {
		t.Errorf("brief = %+v", brief)
	}
	if brief.Tail != nil || brief.Transcript != nil {
		t.Error("brief view carries transcript data")
	}

	row, _ := s.Get(ctx, id)
	full, err := Decode(row, true)
	if err != nil {
		t.Fatalf("Decode(full): %v", err)
	}
	if len(full.Tail) != 2 || full.Tail[1].Tool == nil {
		t.Errorf("Tail = %+v", full.Tail)
	}
	if len(full.Transcript) != 3 {
		t.Errorf("len(Transcript) = %d, want 3", len(full.Transcript))
	}
	if full.Verdict.OverallScore != 92 {
		t.Errorf("Verdict = %+v", full.Verdict)
	}
}
