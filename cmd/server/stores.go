package main

import (
	"context"
	"database/sql"
	"log/slog"

	activityservice "examen/internal/activity/service"
	activityMemory "examen/internal/activity/store/memory"
	activityPostgres "examen/internal/activity/store/postgres"
	auditservice "examen/internal/audit/service"
	auditMemory "examen/internal/audit/store/memory"
	auditPostgres "examen/internal/audit/store/postgres"
	"examen/internal/notify/relay"
	notifyservice "examen/internal/notify/service"
	notifyMemory "examen/internal/notify/store/memory"
	notifyPostgres "examen/internal/notify/store/postgres"
	"examen/internal/platform/config"
	"examen/internal/platform/migrate"
	"examen/internal/platform/postgres"
	slaservice "examen/internal/sla/service"
	slaMemory "examen/internal/sla/store/memory"
	slaPostgres "examen/internal/sla/store/postgres"
	versionservice "examen/internal/version/service"
	versionMemory "examen/internal/version/store/memory"
	versionPostgres "examen/internal/version/store/postgres"
	workflowservice "examen/internal/workflow/service"
	wfMemory "examen/internal/workflow/store/memory"
	wfPostgres "examen/internal/workflow/store/postgres"
)

// stores bundles one persistence choice for every context. The outbox store
// appears twice under its two ports: the publisher stages through outbox,
// the relay drains through outboxSource.
type stores struct {
	workflow   workflowservice.Store
	workflowTx workflowservice.StoreTx
	activity   activityservice.Store
	activityTx activityservice.StoreTx
	version    versionservice.Store
	versionTx  versionservice.StoreTx
	sla        slaservice.Store
	slaTx      slaservice.StoreTx
	audit      auditservice.Store

	outbox       notifyservice.Store
	outboxSource relay.Store
}

// buildStores picks the persistence layer. With DATABASE_URL set it opens
// postgres, applies migrations and shares one transaction runner across all
// contexts; without it everything runs in memory, which suits local
// development but forgets state on restart.
func buildStores(ctx context.Context, cfg config.Server, log *slog.Logger) (stores, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		return memoryStores(), func() {}, nil
	}

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return stores{}, nil, err
	}
	if err := migrate.Apply(ctx, db); err != nil {
		db.Close()
		return stores{}, nil, err
	}
	return postgresStores(db), func() { db.Close() }, nil
}

func postgresStores(db *sql.DB) stores {
	runner := postgres.NewTxRunner(db)
	outbox := notifyPostgres.New(db)
	return stores{
		workflow:     wfPostgres.New(db),
		workflowTx:   runner,
		activity:     activityPostgres.New(db),
		activityTx:   runner,
		version:      versionPostgres.New(db),
		versionTx:    runner,
		sla:          slaPostgres.New(db),
		slaTx:        runner,
		audit:        auditPostgres.New(db),
		outbox:       outbox,
		outboxSource: outbox,
	}
}

func memoryStores() stores {
	wf := wfMemory.New()
	activity := activityMemory.New()
	version := versionMemory.New()
	sla := slaMemory.New()
	outbox := notifyMemory.New()
	return stores{
		workflow:     wf,
		workflowTx:   wf,
		activity:     activity,
		activityTx:   activity,
		version:      version,
		versionTx:    version,
		sla:          sla,
		slaTx:        sla,
		audit:        auditMemory.New(),
		outbox:       outbox,
		outboxSource: outbox,
	}
}
