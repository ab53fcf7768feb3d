package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"veriface/internal/biometrics/models"
	"veriface/internal/biometrics/recognition"
	"veriface/internal/biometrics/service"
	challengestore "veriface/internal/biometrics/store/challenge"
	eventstore "veriface/internal/biometrics/store/event"
	templatestore "veriface/internal/biometrics/store/template"
	"veriface/internal/biometrics/sweeper"
	"veriface/internal/platform/config"
	"veriface/internal/platform/postgres"
	"veriface/internal/platform/redis"
	"veriface/internal/platform/sealer"
	"veriface/pkg/platform/audit"
	"veriface/pkg/platform/audit/publisher"
	kafkasink "veriface/pkg/platform/audit/store/kafka"
	auditmemory "veriface/pkg/platform/audit/store/memory"
	auditpostgres "veriface/pkg/platform/audit/store/postgres"
	"veriface/pkg/platform/audit/worker"
	"veriface/pkg/platform/circuit"
)

// challengeBackend is what the orchestrator and the sweeper need from a
// challenge ledger.
type challengeBackend interface {
	service.ChallengeStore
	sweeper.Store
}

// stores bundles the persistence layer chosen by configuration.
type stores struct {
	db         *sql.DB
	challenges challengeBackend
	templates  service.TemplateStore
	events     service.EventStore
	sweepable  sweeper.Store
	tx         service.Transactor
	probes     []probe
	closers    []func() error
}

func (s *stores) close(log *slog.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Warn("failed to close store", "error", err)
		}
	}
}

func buildStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *stores, err error) {
	st := &stores{}
	defer func() {
		if err != nil {
			st.close(log)
		}
	}()

	var db *sql.DB
	if usesPostgres(cfg.Storage) {
		if cfg.Storage.RunMigrations {
			if err := postgres.Migrate(cfg.Postgres.DSN, postgres.Up); err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			log.Info("database migrations applied")
		}
		db, err = postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		st.db = db
		st.closers = append(st.closers, db.Close)
		st.probes = append(st.probes, probe{name: "postgres", check: db.PingContext})
		st.tx = postgres.NewTransactor(db)
		log.Info("postgres connected")
	}

	switch cfg.Storage.StoreBackend {
	case config.BackendPostgres:
		st.events = eventstore.NewPostgres(db)
	default:
		st.events = eventstore.NewInMemory()
	}

	switch cfg.Storage.ChallengeBackend {
	case config.BackendPostgres:
		st.challenges = challengestore.NewPostgres(db)
	case config.BackendRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		st.closers = append(st.closers, client.Close)
		st.probes = append(st.probes, probe{name: "redis", check: client.Health})
		st.challenges = challengestore.NewRedis(client.Client,
			challengestore.WithRetention(cfg.Biometrics.ChallengeAuditRetention))
		log.Info("redis challenge ledger connected")
	default:
		st.challenges = challengestore.NewInMemory()
	}
	st.sweepable = st.challenges

	switch cfg.Storage.TemplateBackend {
	case config.BackendPostgres:
		st.templates = templatestore.NewPostgres(db)
	case config.BackendBolt:
		bolt, err := templatestore.OpenBolt(cfg.Bolt.Path)
		if err != nil {
			return nil, fmt.Errorf("open bbolt template store: %w", err)
		}
		st.closers = append(st.closers, bolt.Close)
		st.templates = bolt
		log.Info("bbolt template store opened", "path", cfg.Bolt.Path)
	default:
		st.templates = templatestore.NewInMemory()
	}

	// Template writes only share a transaction with the Postgres template
	// store; the other backends guard their own writes.
	if cfg.Storage.TemplateBackend != config.BackendPostgres {
		st.tx = nil
	}
	return st, nil
}

func usesPostgres(s config.Storage) bool {
	return s.StoreBackend == config.BackendPostgres ||
		s.ChallengeBackend == config.BackendPostgres ||
		s.TemplateBackend == config.BackendPostgres
}

func buildSealer(cfg *config.Config, log *slog.Logger) (*sealer.Sealer, error) {
	if cfg.Biometrics.TemplateEncryptionKey != "" {
		s, err := sealer.FromBase64(cfg.Biometrics.TemplateEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("load template key: %w", err)
		}
		return s, nil
	}
	log.Warn("BIOMETRIC_TEMPLATE_KEY not set, templates sealed with an ephemeral key")
	s, err := sealer.Ephemeral()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral template key: %w", err)
	}
	return s, nil
}

func buildRecognition(cfg *config.Config, log *slog.Logger) recognition.Backend {
	rc := cfg.Recognition
	if rc.UseFake {
		log.Warn("using fake recognition backend")
		return recognition.NewFake()
	}

	opts := []recognition.HTTPOption{
		recognition.WithLogger(log),
		recognition.WithBreaker(circuit.New("recognition",
			circuit.WithFailureThreshold(rc.FailureThreshold),
			circuit.WithSuccessThreshold(rc.SuccessThreshold),
			circuit.WithCooldown(rc.Cooldown),
		)),
		recognition.WithDefaultModel(models.ModelInfo{Name: rc.ModelName, Version: rc.ModelVersion}),
	}
	if rc.ServiceSecret != "" {
		opts = append(opts, recognition.WithServiceTokens(
			recognition.NewServiceTokens(rc.ServiceSecret, rc.ServiceIssuer, rc.ServiceAudience, rc.Timeout*2)))
	} else {
		log.Warn("RECOGNITION_SERVICE_SECRET not set, recognition calls are unauthenticated")
	}
	return recognition.NewHTTPClient(rc.BaseURL, rc.Timeout, opts...)
}

// auditStream is the publisher backing the recognition event stream plus the
// resources it owns.
type auditStream struct {
	publisher *publisher.Publisher
	relay     *worker.Worker
	probe     *probe
	sink      *kafkasink.Sink
}

// Close drains buffered events before closing the broker connection.
func (a *auditStream) Close() {
	a.publisher.Close()
	if a.sink != nil {
		a.sink.Close()
	}
}

// buildAudit picks where audit events go. With Postgres they are written to
// the outbox and relayed to Kafka when brokers are configured; otherwise they
// go straight to Kafka or stay in memory.
func buildAudit(ctx context.Context, cfg *config.Config, st *stores, log *slog.Logger) (*auditStream, error) {
	stream := &auditStream{}
	if len(cfg.Audit.KafkaBrokers) > 0 {
		sink, err := kafkasink.New(cfg.Audit.KafkaBrokers, cfg.Audit.Topic)
		if err != nil {
			return nil, fmt.Errorf("connect audit kafka: %w", err)
		}
		if err := sink.EnsureTopic(ctx, cfg.Audit.Partitions, 1); err != nil {
			sink.Close()
			return nil, fmt.Errorf("ensure audit topic: %w", err)
		}
		stream.sink = sink
		stream.probe = &probe{name: "kafka", check: sink.Ping}
	}

	var store audit.Store
	switch {
	case st.db != nil && cfg.Storage.StoreBackend == config.BackendPostgres:
		outbox := auditpostgres.New(st.db)
		store = outbox
		if stream.sink != nil {
			relay, err := worker.NewWorker(outbox, stream.sink, postgres.NewTransactor(st.db), cfg.Audit.RelayInterval,
				worker.WithRetention(cfg.Audit.OutboxRetention),
				worker.WithLogger(log),
			)
			if err != nil {
				stream.sink.Close()
				return nil, fmt.Errorf("init audit relay: %w", err)
			}
			stream.relay = relay
		}
		log.Info("audit events written to postgres outbox", "relay", stream.relay != nil)
	case stream.sink != nil:
		store = stream.sink
		log.Info("audit events streaming to kafka", "topic", cfg.Audit.Topic)
	default:
		store = auditmemory.NewInMemoryStore()
		log.Info("audit events kept in memory")
	}

	stream.publisher = publisher.NewPublisher(store,
		publisher.WithAsyncBuffer(cfg.Audit.BufferSize),
		publisher.WithLogger(log),
	)
	return stream, nil
}
