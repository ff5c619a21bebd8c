// Package app wires the storage, mail, and domain components into one
// runtime the CLI and server share.
package app

import (
	"database/sql"
	"time"

	"rfpflow/internal/config"
	"rfpflow/internal/coordinator"
	"rfpflow/internal/db"
	"rfpflow/internal/events"
	"rfpflow/internal/knowledge"
	"rfpflow/internal/lifecycle"
	"rfpflow/internal/mail"
	"rfpflow/internal/migrate"
	"rfpflow/internal/repo"
	"rfpflow/internal/validation"
)

type App struct {
	DB          *sql.DB
	Repo        repo.Repo
	Events      events.Writer
	Config      *config.Config
	Gateway     mail.Gateway
	Mail        mail.Recorder
	Lifecycle   lifecycle.Manager
	Validations validation.Tracker
	Knowledge   knowledge.Store
	Coordinator coordinator.Coordinator
	Now         func() time.Time
}

type Options struct {
	Workspace string
	// Config overrides the workspace rfpflow.yml when set.
	Config *config.Config
	// Gateway overrides the default in-memory gateway.
	Gateway mail.Gateway
	// Invokers overrides the default email-backed capability invokers.
	Invokers map[coordinator.Capability]coordinator.Invoker
	Now      func() time.Time
}

// New opens the workspace database, applies migrations, and wires every
// component. Missing config falls back to defaults.
func New(opts Options) (*App, error) {
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	cfg := opts.Config
	if cfg == nil {
		cfg, err = config.LoadOptional(opts.Workspace)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}
	if cfg == nil {
		cfg = config.Default("manager@localhost")
	}
	return FromDB(conn, cfg, opts)
}

// FromDB wires an App onto an already-open, migrated database. Tests use
// this with in-memory databases and fixed clocks.
func FromDB(conn *sql.DB, cfg *config.Config, opts Options) (*App, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	gateway := opts.Gateway
	if gateway == nil {
		mem := mail.NewMemory()
		mem.Now = now
		gateway = mem
	}
	r := repo.Repo{DB: conn}
	writer := events.Writer{DB: conn, Now: now}
	recorder := mail.Recorder{Gateway: gateway, Repo: r, Now: now}

	manager := lifecycle.Manager{DB: conn, Repo: r, Events: writer, Now: now}
	tracker := validation.Tracker{
		DB:                     conn,
		Repo:                   r,
		Events:                 writer,
		Mail:                   recorder,
		Now:                    now,
		TimeoutHours:           cfg.Validation.TimeoutHours,
		RejectDuplicatePending: cfg.Validation.RejectDuplicatePending,
		FromEmail:              cfg.Company.FromEmail,
	}
	index := knowledge.Store{Repo: r, Now: now}

	invokers := opts.Invokers
	if invokers == nil {
		invokers = map[coordinator.Capability]coordinator.Invoker{
			coordinator.CapabilityBrief: coordinator.EmailInvoker{
				Mail: recorder, Capability: coordinator.CapabilityBrief,
				Address: cfg.Capabilities.BriefEmail, From: cfg.Company.FromEmail,
			},
			coordinator.CapabilityProposal: coordinator.EmailInvoker{
				Mail: recorder, Capability: coordinator.CapabilityProposal,
				Address: cfg.Capabilities.ProposalEmail, From: cfg.Company.FromEmail,
			},
			coordinator.CapabilityDrafting: coordinator.EmailInvoker{
				Mail: recorder, Capability: coordinator.CapabilityDrafting,
				Address: cfg.Capabilities.DraftingEmail, From: cfg.Company.FromEmail,
			},
		}
	}
	coord := coordinator.Coordinator{
		DB:          conn,
		Repo:        r,
		Events:      writer,
		Lifecycle:   manager,
		Validations: tracker,
		Mail:        recorder,
		Invokers:    invokers,
		Config:      cfg,
		Now:         now,
	}

	return &App{
		DB:          conn,
		Repo:        r,
		Events:      writer,
		Config:      cfg,
		Gateway:     gateway,
		Mail:        recorder,
		Lifecycle:   manager,
		Validations: tracker,
		Knowledge:   index,
		Coordinator: coord,
		Now:         now,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
