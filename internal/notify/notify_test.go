package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/closeout/internal/store"
	"github.com/zulandar/closeout/internal/ticket"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu      sync.Mutex
	posted  []string
	errs    []error
	options [][]slackapi.MsgOption
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return "", "", err
		}
	}
	m.posted = append(m.posted, channelID)
	m.options = append(m.options, options)
	return channelID, "1234567890.123456", nil
}

// --- Mock Discord session ---

type mockSession struct {
	mu      sync.Mutex
	embeds  []*discordgo.MessageEmbed
	channel string
	err     error
}

func (m *mockSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.channel = channelID
	m.embeds = append(m.embeds, embed)
	return &discordgo.Message{ID: "m1"}, nil
}

// --- Recording notifier ---

type recordingNotifier struct {
	name   string
	err    error
	events []Event
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Post(_ context.Context, evt Event) error {
	r.events = append(r.events, evt)
	return r.err
}

func sampleSubmission() store.Submission {
	return store.Submission{
		Engineer: "王工",
		Record: ticket.Record{
			DeviceSN:    "SN-1",
			FaultType:   "GPU故障",
			FinalReport: "GPU3 XID79，对调后故障跟随，更换后烤机通过",
			Replacements: []ticket.ReplacementRecord{
				{OldType: "H100", OldQN: "QN-O", NewType: "H100", NewQN: "QN-N"},
			},
		},
		Verdict: ticket.Verdict{RiskLevel: ticket.RiskLow, OverallScore: 88, CritiqueText: "交叉验证充分"},
	}
}

// ----- FormatSubmission tests -----

func TestFormatSubmission(t *testing.T) {
	evt := FormatSubmission(7, sampleSubmission())
	if evt.Title != "Ticket #7 closed: GPU故障" {
		t.Errorf("Title = %q", evt.Title)
	}
	if evt.Color != ColorSuccess {
		t.Errorf("Color = %q, want %q", evt.Color, ColorSuccess)
	}
	if !strings.Contains(evt.Body, "QN-O → H100 QN-N") {
		t.Errorf("Body missing replacement: %q", evt.Body)
	}
	if !strings.Contains(evt.Body, "交叉验证充分") {
		t.Errorf("Body missing critique: %q", evt.Body)
	}
	if len(evt.Fields) != 5 {
		t.Errorf("len(Fields) = %d, want 5", len(evt.Fields))
	}
}

func TestFormatSubmission_Flags(t *testing.T) {
	sub := sampleSubmission()
	sub.Verdict.SOPViolation = true
	sub.Verdict.OverallScore = 55
	sub.Degraded = true
	evt := FormatSubmission(1, sub)
	if evt.Color != ColorError {
		t.Errorf("Color = %q, want %q", evt.Color, ColorError)
	}
	names := map[string]bool{}
	for _, f := range evt.Fields {
		names[f.Name] = true
	}
	if !names["SOP"] || !names["Degraded"] {
		t.Errorf("Fields = %+v, want SOP and Degraded", evt.Fields)
	}

	sub = sampleSubmission()
	sub.Verdict.RiskLevel = ticket.RiskMedium
	if got := FormatSubmission(1, sub).Color; got != ColorWarning {
		t.Errorf("medium Color = %q, want %q", got, ColorWarning)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("短", 5); got != "短" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("一二三四五六", 3); got != "一二三…" {
		t.Errorf("truncate = %q", got)
	}
}

// ----- Multi / Hook tests -----

func TestMulti_PostsToAllAndJoinsErrors(t *testing.T) {
	a := &recordingNotifier{name: "a"}
	b := &recordingNotifier{name: "b", err: errors.New("down")}
	c := &recordingNotifier{name: "c"}
	m := Multi{a, b, c}

	err := m.Post(context.Background(), Event{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "b: down") {
		t.Errorf("error = %v, want b: down", err)
	}
	if len(a.events) != 1 || len(c.events) != 1 {
		t.Error("a failing notifier stopped the fan-out")
	}
	if m.Name() != "a,b,c" {
		t.Errorf("Name() = %q", m.Name())
	}
	if err := (Multi{}).Post(context.Background(), Event{}); err != nil {
		t.Errorf("empty Multi error = %v", err)
	}
}

func TestHook_AfterSubmit(t *testing.T) {
	if _, err := NewHook(nil); err == nil {
		t.Fatal("expected error for nil notifier")
	}
	rec := &recordingNotifier{name: "r"}
	h, err := NewHook(rec)
	if err != nil {
		t.Fatalf("NewHook: %v", err)
	}
	if err := h.AfterSubmit(context.Background(), 3, sampleSubmission()); err != nil {
		t.Fatalf("AfterSubmit: %v", err)
	}
	if len(rec.events) != 1 || !strings.HasPrefix(rec.events[0].Title, "Ticket #3") {
		t.Errorf("events = %+v", rec.events)
	}
}

// ----- Slack tests -----

func TestNewSlack_Validation(t *testing.T) {
	if _, err := NewSlack(SlackOpts{Token: "xoxb"}); err == nil {
		t.Error("expected error for missing channel")
	}
	if _, err := NewSlack(SlackOpts{ChannelID: "C1"}); err == nil {
		t.Error("expected error for missing token")
	}
	if _, err := NewSlack(SlackOpts{Token: "xoxb", ChannelID: "C1"}); err != nil {
		t.Errorf("NewSlack with token: %v", err)
	}
}

func TestSlack_Post(t *testing.T) {
	client := &mockSlackClient{}
	s, _ := NewSlack(SlackOpts{ChannelID: "C1", Client: client})
	if err := s.Post(context.Background(), FormatSubmission(1, sampleSubmission())); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(client.posted) != 1 || client.posted[0] != "C1" {
		t.Errorf("posted = %v", client.posted)
	}
	if len(client.options[0]) != 2 {
		t.Errorf("len(options) = %d, want 2", len(client.options[0]))
	}
}

func TestSlack_RetriesRateLimit(t *testing.T) {
	client := &mockSlackClient{errs: []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}}
	s, _ := NewSlack(SlackOpts{ChannelID: "C1", Client: client})
	if err := s.Post(context.Background(), Event{Title: "x"}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(client.posted) != 1 {
		t.Errorf("posted = %d, want 1 after retry", len(client.posted))
	}
}

func TestSlack_NonRateLimitErrorNotRetried(t *testing.T) {
	client := &mockSlackClient{errs: []error{errors.New("channel_not_found")}}
	s, _ := NewSlack(SlackOpts{ChannelID: "C1", Client: client})
	err := s.Post(context.Background(), Event{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("error = %v", err)
	}
	if len(client.posted) != 0 {
		t.Error("message posted after hard error")
	}
}

func TestEventToAttachment(t *testing.T) {
	att := eventToAttachment(Event{
		Title:  "T",
		Body:   "B",
		Color:  ColorInfo,
		Fields: []Field{{Name: "k", Value: "v", Short: true}},
	})
	if att.Title != "T" || att.Text != "B" || att.Color != ColorInfo || att.Fallback != "T" {
		t.Errorf("attachment = %+v", att)
	}
	if len(att.Fields) != 1 || att.Fields[0].Title != "k" || !att.Fields[0].Short {
		t.Errorf("fields = %+v", att.Fields)
	}
}

// ----- Discord tests -----

func TestNewDiscord_Validation(t *testing.T) {
	if _, err := NewDiscord(DiscordOpts{Token: "t"}); err == nil {
		t.Error("expected error for missing channel")
	}
	if _, err := NewDiscord(DiscordOpts{ChannelID: "1"}); err == nil {
		t.Error("expected error for missing token")
	}
}

func TestDiscord_Post(t *testing.T) {
	sess := &mockSession{}
	d, _ := NewDiscord(DiscordOpts{ChannelID: "42", Session: sess})
	if err := d.Post(context.Background(), FormatSubmission(2, sampleSubmission())); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if sess.channel != "42" || len(sess.embeds) != 1 {
		t.Fatalf("channel %q, %d embeds", sess.channel, len(sess.embeds))
	}
	e := sess.embeds[0]
	if e.Color != 0x36a64f {
		t.Errorf("Color = %x, want 36a64f", e.Color)
	}
	if len(e.Fields) != 5 || !e.Fields[0].Inline {
		t.Errorf("Fields = %+v", e.Fields)
	}

	sess.err = errors.New("missing access")
	if err := d.Post(context.Background(), Event{Title: "x"}); err == nil || !strings.Contains(err.Error(), "discord: send embed") {
		t.Errorf("error = %v", err)
	}
}

func TestParseHexColor(t *testing.T) {
	tests := map[string]int{"#e53935": 0xe53935, "2196f3": 0x2196f3, "nothex": 0, "": 0}
	for in, want := range tests {
		if got := parseHexColor(in); got != want {
			t.Errorf("parseHexColor(%q) = %x, want %x", in, got, want)
		}
	}
}
