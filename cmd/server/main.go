package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	biometricmetrics "veriface/internal/biometrics/metrics"
	"veriface/internal/biometrics/service"
	"veriface/internal/biometrics/sweeper"
	"veriface/internal/platform/config"
	"veriface/internal/platform/httpserver"
	"veriface/internal/platform/logger"
	"veriface/internal/platform/metrics"
	"veriface/internal/platform/payloadcipher"
)

// main wires the biometric orchestrator and its background jobs. The public
// enroll/verify transport is mounted by the embedding web layer; this process
// only exposes the operations listener.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	serverMetrics := metrics.New(reg)
	bioMetrics := biometricmetrics.NewWithRegistry(reg)
	serverMetrics.SetBuildInfo(cfg.Server.Environment, cfg.Recognition.ModelName+"@"+cfg.Recognition.ModelVersion)

	st, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close(log)

	keyring, err := payloadcipher.New(cfg.Keys.Category, payloadcipher.WithGracePeriod(cfg.Keys.GracePeriod))
	if err != nil {
		return fmt.Errorf("init payload keyring: %w", err)
	}
	templateSealer, err := buildSealer(cfg, log)
	if err != nil {
		return err
	}
	recognizer := buildRecognition(cfg, log)

	auditStream, err := buildAudit(ctx, cfg, st, log)
	if err != nil {
		return err
	}
	defer auditStream.Close()
	if auditStream.probe != nil {
		st.probes = append(st.probes, *auditStream.probe)
	}

	svc, err := service.New(st.challenges, st.templates, st.events, keyring, recognizer,
		service.WithConfig(serviceConfig(cfg)),
		service.WithSealer(templateSealer),
		service.WithTransactor(st.tx),
		service.WithAuditPublisher(auditStream.publisher),
		service.WithMetrics(bioMetrics),
		service.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("init biometric service: %w", err)
	}

	sw, err := sweeper.New(st.sweepable, cfg.Biometrics.SweepInterval, cfg.Biometrics.ChallengeAuditRetention,
		sweeper.WithMetrics(bioMetrics),
		sweeper.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("init sweeper: %w", err)
	}

	gatherer := prometheus.Gatherers{prometheus.DefaultGatherer, reg}
	srv := httpserver.New(cfg.Server.OpsAddr, newOpsRouter(gatherer, st.probes, serverMetrics, svc, log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting ops listener", "addr", cfg.Server.OpsAddr, "env", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(sw.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(rotateKeys(gctx, keyring, cfg.Keys.RotationInterval, serverMetrics, log))
	})
	if auditStream.relay != nil {
		g.Go(func() error {
			return ignoreCanceled(auditStream.relay.Run(gctx))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// rotateKeys promotes a fresh payload key on every interval. Retired keys
// keep decrypting for the configured grace period.
func rotateKeys(ctx context.Context, keyring *payloadcipher.Keyring, interval time.Duration, m *metrics.Metrics, log *slog.Logger) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			key, err := keyring.Rotate()
			m.IncrementKeyRotation(err == nil)
			if err != nil {
				log.ErrorContext(ctx, "payload key rotation failed", "error", err)
				continue
			}
			log.InfoContext(ctx, "payload key rotated", "key_id", key.KeyID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func serviceConfig(cfg *config.Config) service.Config {
	b := cfg.Biometrics
	return service.Config{
		ChallengeTTL:          b.ChallengeTTL,
		MaxConsumeAttempts:    b.MaxConsumeAttempts,
		EnrollLivenessActions: b.EnrollLivenessActions,
		VerifyLivenessActions: b.VerifyLivenessActions,
		Threshold:             b.Threshold,
		SuspiciousMargin:      b.SuspiciousMargin,
		MaxTemplateEmbeddings: b.MaxTemplateEmbeddings,
		MinFrames:             b.MinFrames,
		MaxFrames:             b.MaxFrames,
		ProofTokenTTL:         b.ProofTokenTTL,
		AllowModelMigration:   b.AllowModelMigration,
		RecognitionTimeout:    cfg.Recognition.Timeout,
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
