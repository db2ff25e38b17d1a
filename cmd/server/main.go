// Command server runs the examen API: phase orchestration, activity
// tracking, versioned artifacts, SLA clocks and the audit trail behind one
// HTTP surface. main wires dependencies and owns the process lifecycle;
// business logic lives in the internal services.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"golang.org/x/sync/errgroup"

	activityconfig "examen/internal/activity/config"
	activityhandler "examen/internal/activity/handler"
	activityservice "examen/internal/activity/service"
	audithandler "examen/internal/audit/handler"
	auditservice "examen/internal/audit/service"
	jwttoken "examen/internal/jwt_token"
	notifymetrics "examen/internal/notify/metrics"
	"examen/internal/notify/relay"
	notifyservice "examen/internal/notify/service"
	"examen/internal/platform/config"
	"examen/internal/platform/httpserver"
	"examen/internal/platform/kafka"
	"examen/internal/platform/logger"
	platformmetrics "examen/internal/platform/metrics"
	"examen/internal/platform/redis"
	slaconfig "examen/internal/sla/config"
	slahandler "examen/internal/sla/handler"
	slametrics "examen/internal/sla/metrics"
	slaservice "examen/internal/sla/service"
	httptransport "examen/internal/transport/http"
	versionhandler "examen/internal/version/handler"
	versionmetrics "examen/internal/version/metrics"
	versionservice "examen/internal/version/service"
	"examen/internal/workflow/cache"
	workflowhandler "examen/internal/workflow/handler"
	workflowmetrics "examen/internal/workflow/metrics"
	workflowservice "examen/internal/workflow/service"
)

const (
	tokenIssuer   = "examen"
	tokenAudience = "examen-api"

	shutdownGrace = 10 * time.Second

	topicPartitions  = 3
	topicReplication = 1
)

func main() {
	log := logger.New()
	if err := run(context.Background(), log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger) error {
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	kafkaClient, err := kafka.New(cfg.Kafka)
	if err != nil {
		return err
	}
	if kafkaClient != nil {
		defer kafkaClient.Close()
	}

	activityRules, err := activityconfig.Load(cfg.RulesPath)
	if err != nil {
		return err
	}
	slaRules, err := slaconfig.Load(cfg.SLARulesPath)
	if err != nil {
		return err
	}

	recorder := auditservice.NewRecorder(st.audit, auditservice.WithLogger(log))
	publisher := notifyservice.NewPublisher(st.outbox, notifyservice.WithLogger(log))

	gate := workflowservice.NewVersionApprovalGate()
	hook := workflowservice.NewPhaseCompletionHook()

	activities := activityservice.NewManager(st.activity, st.activityTx, recorder,
		activityservice.WithRules(activityRules),
		activityservice.WithVersionGate(gate),
		activityservice.WithPhaseHook(hook),
		activityservice.WithLogger(log),
	)

	versions := versionservice.NewManager(st.version, st.versionTx, recorder,
		versionservice.WithAdvancer(activities),
		versionservice.WithPublisher(publisher),
		versionservice.WithMetrics(versionmetrics.New()),
		versionservice.WithLogger(log),
	)
	gate.Bind(versions)

	tracker := slaservice.NewTracker(st.sla, st.slaTx, recorder, slaRules,
		slaservice.WithPublisher(publisher),
		slaservice.WithMetrics(slametrics.New()),
		slaservice.WithLogger(log),
	)

	orchOpts := []workflowservice.Option{
		workflowservice.WithSLA(tracker),
		workflowservice.WithPublisher(publisher),
		workflowservice.WithMetrics(workflowmetrics.New()),
		workflowservice.WithLogger(log),
	}
	if redisClient != nil {
		orchOpts = append(orchOpts, workflowservice.WithCache(cache.New(redisClient.Client, cfg.SnapshotTTL)))
	}
	orch := workflowservice.NewOrchestrator(st.workflow, st.workflowTx, recorder, activities, orchOpts...)
	hook.Bind(orch)

	tokens := jwttoken.NewService(cfg.JWTSigningKey, tokenIssuer, tokenAudience)

	router := httptransport.New(httptransport.Handlers{
		Workflow: workflowhandler.New(orch, log),
		Activity: activityhandler.New(activities, log),
		Version:  versionhandler.New(versions, log),
		SLA:      slahandler.New(tracker, log),
		Audit:    audithandler.New(recorder, log),
	}, jwttoken.NewServiceAdapter(tokens), platformmetrics.New(), log, httptransport.Options{
		ServiceKeyHash: cfg.ServiceKeyHash,
	})

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("draining server")
		return httpserver.Shutdown(srv, shutdownGrace)
	})

	if kafkaClient != nil {
		rel := relay.NewRelay(st.outboxSource, kafkaClient, cfg.Kafka.TopicPrefix,
			relay.WithInterval(cfg.Kafka.RelayInterval),
			relay.WithMetrics(notifymetrics.New()),
			relay.WithLogger(log),
		)
		g.Go(func() error {
			if err := relay.EnsureTopics(gctx, kadm.NewClient(kafkaClient), cfg.Kafka.TopicPrefix, topicPartitions, topicReplication); err != nil {
				return err
			}
			if err := rel.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		log.Warn("kafka not configured, staged events stay in the outbox")
	}

	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := tracker.Sweep(gctx); err != nil {
					log.ErrorContext(gctx, "sla sweep failed", "error", err)
				}
			}
		}
	})

	return g.Wait()
}
