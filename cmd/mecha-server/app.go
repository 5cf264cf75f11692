package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mechafrog/ptm/server/internal/domain/catalog"
	"github.com/mechafrog/ptm/server/internal/domain/progress"
	"github.com/mechafrog/ptm/server/internal/economy"
	"github.com/mechafrog/ptm/server/internal/events"
	"github.com/mechafrog/ptm/server/internal/infra/storage"
	"github.com/mechafrog/ptm/server/internal/platform/config"
	"github.com/mechafrog/ptm/server/internal/platform/logger"
	"github.com/mechafrog/ptm/server/internal/platform/optimization"
)

// app holds what every command needs: settings, catalog and the save slot.
type app struct {
	cfg    config.Config
	log    *logger.Logger
	cat    *catalog.Catalog
	db     *sql.DB
	slot   *storage.SaveSlot
	ledger storage.EventRepository // nil when running in memory
}

func bootstrap() (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.memory {
		cfg.Storage.Memory = true
	}
	if flags.dbPath != "" {
		cfg.Storage.Path = flags.dbPath
	}
	if cfg.Server.Profile != "" {
		p, err := optimization.ProfileByName(cfg.Server.Profile)
		if err != nil {
			return nil, fmt.Errorf("%w: server.profile: %v", config.ErrInvalid, err)
		}
		cfg.Events.Buffer = p.EventBuffer
		cfg.Server.BroadcastBuffer = p.BroadcastBuffer
		cfg.Server.ClientSendBuffer = p.ClientSendBuffer
		cfg.Server.MaxClients = p.MaxClients
	}

	appLogger := logger.New(logger.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})

	cat := catalog.Default()
	if cfg.Catalog.Path != "" {
		if cat, err = catalog.LoadFile(cfg.Catalog.Path); err != nil {
			return nil, err
		}
		appLogger.Info("catalog loaded", "path", cfg.Catalog.Path, "revision", cat.Revision)
	}

	a := &app{cfg: cfg, log: appLogger, cat: cat}

	var kv storage.KV
	if cfg.Storage.Memory {
		appLogger.Info("storage in memory, progress will not survive a restart")
		kv = storage.NewMemoryKV()
	} else {
		appLogger.Info("initializing SQLite database", "path", cfg.Storage.Path)
		db, err := storage.InitSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.db = db
		kv = storage.NewSQLiteKV(db)
		a.ledger = storage.NewSQLiteEventRepository(db)
	}

	a.slot = storage.NewSaveSlot(kv, cat, cfg.Storage.KeyPrefix, progress.Defaults{
		BasePassiveRate: cfg.Economy.BasePassiveRate,
		PerClickAmount:  cfg.Economy.PerClickAmount,
	})
	return a, nil
}

// profile reports the buffer sizes in effect.
func (a *app) profile() optimization.Profile {
	name := a.cfg.Server.Profile
	if name == "" {
		name = "custom"
	}
	return optimization.Profile{
		Name:             name,
		EventBuffer:      a.cfg.Events.Buffer,
		BroadcastBuffer:  a.cfg.Server.BroadcastBuffer,
		ClientSendBuffer: a.cfg.Server.ClientSendBuffer,
		MaxClients:       a.cfg.Server.MaxClients,
	}
}

func (a *app) economy() *economy.Economy {
	return economy.New(a.cat, economy.Rules{
		Conversion:   a.cfg.Economy.Conversion,
		ClickFormula: economy.ClickFormula(a.cfg.Economy.ClickFormula),
	})
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// ledgerPersister translates engine events to storage events.
type ledgerPersister struct {
	repo storage.EventRepository
}

func (p *ledgerPersister) Append(ctx context.Context, event events.GameEvent) error {
	return p.repo.Append(ctx, storage.StoredEvent{
		ID:        event.ID,
		Slot:      event.Slot,
		Seq:       event.Seq,
		Timestamp: event.Timestamp,
		EventType: string(event.Type),
		Payload:   event.Payload,
	})
}
