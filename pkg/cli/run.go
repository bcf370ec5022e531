// Package cli implements the fx command-line entrypoint's subcommands: run,
// state show, and config validate.
package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fl-team8/aggregator/pkg/aggregator"
	"github.com/fl-team8/aggregator/pkg/blobstore"
	"github.com/fl-team8/aggregator/pkg/config"
	"github.com/fl-team8/aggregator/pkg/ledger"
	"github.com/fl-team8/aggregator/pkg/monitoring"
	"github.com/fl-team8/aggregator/pkg/quality"
	"github.com/fl-team8/aggregator/pkg/reputation"
	"github.com/fl-team8/aggregator/pkg/round"
	"github.com/fl-team8/aggregator/pkg/security"
	"github.com/fl-team8/aggregator/pkg/snapshot"
	"github.com/fl-team8/aggregator/pkg/threshold"
)

// HandleRunCommand implements `fx run [--config path.yaml]`: it wires and
// runs the full coordinator until an interrupt or SIGTERM is received. This
// is the same wiring cmd/aggregator's main uses directly; the CLI exists so
// operators have one binary for running, inspecting, and validating.
func HandleRunCommand(args []string) error {
	configPath := os.Getenv("CONFIG_FILE")
	for i, arg := range args {
		if arg == "--help" || arg == "-h" {
			fmt.Println("Usage: fx run [--config path.yaml]")
			return nil
		}
		if (arg == "--config" || arg == "-c") && i+1 < len(args) {
			configPath = args[i+1]
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to resolve configuration: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Printf("[AGGREGATOR] ⚠️ config: %s", e)
		}
	}

	if err := os.MkdirAll(cfg.ModelDir, 0o755); err != nil {
		return fmt.Errorf("failed to create model dir: %w", err)
	}

	httpClient := http.DefaultClient
	var wsDialer *websocket.Dialer
	if cfg.Security.Enabled {
		tlsManager, err := security.NewTLSManager(cfg.Security, cfg.SecurityCertDir)
		if err != nil {
			return fmt.Errorf("failed to initialize mTLS: %w", err)
		}
		httpClient, err = tlsManager.NewHTTPClient()
		if err != nil {
			return fmt.Errorf("failed to build mTLS http client: %w", err)
		}
		tlsConfig, err := tlsManager.ClientTLSConfig()
		if err != nil {
			return fmt.Errorf("failed to build mTLS websocket dialer: %w", err)
		}
		wsDialer = &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 45 * time.Second, TLSClientConfig: tlsConfig}
		log.Printf("[SECURITY] 🔒 mTLS enabled for ledger/blob clients")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ledgerClient := ledger.New(cfg.GatewayURL, httpClient)
	blobClient := blobstore.New(cfg.BlobURL, httpClient)

	reputations := reputation.New(cfg.Reputation)
	thresholds := threshold.New(cfg.Threshold)
	evaluator := quality.NewEvaluator(reputations, ledgerClient)

	snapper := snapshot.New(cfg.ModelDir, 300*time.Second, thresholds, reputations)
	if err := snapper.Load(); err != nil {
		log.Printf("[AGGREGATOR] ⚠️ failed to load snapshot: %v", err)
	}

	processor := aggregator.NewProcessor(blobClient, ledgerClient, evaluator, thresholds, reputations, cfg.ModelDir, nil)
	coordinator := round.New(ctx, cfg.ToRoundConfig(), processor, reputations, ledgerClient, nil)

	if cfg.Observability.Enabled {
		storage, err := monitoring.NewStorage(cfg.ToStorageConfig())
		if err != nil {
			return fmt.Errorf("failed to initialize observability storage backend: %w", err)
		}

		monitorService := monitoring.NewService(storage, coordinator, reputations, thresholds)
		processor.SetHooks(monitorService)
		coordinator.SetHooks(monitorService)

		var auth *monitoring.AuthManager
		if cfg.Observability.AuthEnabled {
			auth, err = monitoring.NewAuthManager(cfg.ToAuthConfig())
			if err != nil {
				return fmt.Errorf("failed to initialize observability auth: %w", err)
			}
		}

		apiServer := monitoring.NewAPIServer(monitorService, storage, cfg.ToMonitoringConfig(), auth)
		go func() {
			if err := apiServer.Start(); err != nil {
				log.Printf("[OBSERVABILITY] ❌ API server stopped: %v", err)
			}
		}()
		log.Printf("[OBSERVABILITY] 📡 observability API enabled on port %d (backend=%s)", cfg.Observability.APIPort, cfg.Observability.StorageBackend)
	}

	listener := ledger.NewListener(cfg.WSURL, coordinator, wsDialer)
	go listener.Run(ctx)
	go snapper.Run(ctx)

	log.Printf("[AGGREGATOR] 🚀 round aggregator started, model_dir=%s", cfg.ModelDir)

	<-ctx.Done()
	log.Printf("[AGGREGATOR] 🛑 shutdown signal received, draining in-flight work")
	snapper.Save()
	return nil
}
