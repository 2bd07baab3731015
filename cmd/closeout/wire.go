package main

import (
	"fmt"

	"github.com/zulandar/closeout/internal/closure"
	"github.com/zulandar/closeout/internal/config"
	"github.com/zulandar/closeout/internal/db"
	"github.com/zulandar/closeout/internal/escalate"
	"github.com/zulandar/closeout/internal/notify"
	"github.com/zulandar/closeout/internal/oracle"
	"github.com/zulandar/closeout/internal/store"
	"github.com/zulandar/closeout/internal/ticket"
	"gorm.io/gorm"
)

// connectFromConfig loads the config, opens the ticket database and makes
// sure its tables exist.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// app is the wired closure pipeline shared by serve and chat.
type app struct {
	cfg      *config.Config
	store    *store.Store
	machine  *closure.Machine
	notifier notify.Notifier // nil when no channel is configured
}

// buildApp wires the pipeline. model overrides the configured reasoning
// model; nil builds the OpenAI-compatible client from cfg.
func buildApp(cfg *config.Config, gormDB *gorm.DB, model oracle.Model) (*app, error) {
	st, err := store.New(gormDB)
	if err != nil {
		return nil, err
	}

	if model == nil {
		model, err = oracle.NewOpenAIModel(oracle.OpenAIOpts{
			APIKey:     cfg.Model.APIKey(),
			BaseURL:    cfg.Model.BaseURL,
			Model:      cfg.Model.Name,
			Timeout:    cfg.Model.RequestTimeout,
			MaxRetries: cfg.Model.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set %s)", err, cfg.Model.APIKeyEnv)
		}
	}
	model = oracle.NewRecorded(model, st, cfg.Model.Name)

	orc, err := oracle.New(oracle.Opts{
		Model:          model,
		Temperature:    cfg.Model.InterviewTemperature,
		LegacySentinel: cfg.Model.SentinelEnabled(),
	})
	if err != nil {
		return nil, err
	}
	ex, err := oracle.NewExtractor(oracle.ExtractorOpts{Model: model, Temperature: cfg.Model.ExtractTemperature})
	if err != nil {
		return nil, err
	}
	au, err := oracle.NewAuditor(oracle.AuditorOpts{
		Model:       model,
		Temperature: cfg.Model.AuditTemperature,
		Language:    cfg.Model.Language,
	})
	if err != nil {
		return nil, err
	}
	prompt, err := oracle.InterviewPrompt(oracle.PromptOpts{
		Language:       cfg.Model.Language,
		LegacySentinel: cfg.Model.SentinelEnabled(),
	})
	if err != nil {
		return nil, err
	}

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return nil, err
	}
	hooks, err := buildHooks(cfg, notifier)
	if err != nil {
		return nil, err
	}

	machine, err := closure.NewMachine(closure.MachineOpts{
		Oracle:         orc,
		Extractor:      ex,
		Auditor:        au,
		Store:          st,
		Hooks:          hooks,
		SystemPrompt:   prompt,
		TranscriptTail: cfg.Session.TranscriptTail,
		MaxTurns:       cfg.Session.MaxTurns,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, store: st, machine: machine, notifier: notifier}, nil
}

// buildNotifier returns the configured chat channels, or nil if none.
func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	var out notify.Multi
	if cfg.Notify.Slack.Enabled() {
		s, err := notify.NewSlack(notify.SlackOpts{
			Token:     cfg.Notify.Slack.Token(),
			ChannelID: cfg.Notify.Slack.ChannelID,
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set %s)", err, cfg.Notify.Slack.TokenEnv)
		}
		out = append(out, s)
	}
	if cfg.Notify.Discord.Enabled() {
		d, err := notify.NewDiscord(notify.DiscordOpts{
			Token:     cfg.Notify.Discord.Token(),
			ChannelID: cfg.Notify.Discord.ChannelID,
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set %s)", err, cfg.Notify.Discord.TokenEnv)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// buildHooks assembles the after-submit hooks.
func buildHooks(cfg *config.Config, notifier notify.Notifier) ([]closure.SubmitHook, error) {
	var hooks []closure.SubmitHook
	if notifier != nil {
		h, err := notify.NewHook(notifier)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, h)
	}
	if gh := cfg.Escalation.GitHub; gh.Enabled() {
		e, err := escalate.New(escalate.Opts{
			Owner:   gh.Owner,
			Repo:    gh.Repo,
			Token:   gh.Token(),
			Labels:  gh.Labels,
			MinRisk: ticket.RiskLevel(gh.MinRisk),
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set %s)", err, gh.TokenEnv)
		}
		hooks = append(hooks, e)
	}
	return hooks, nil
}
