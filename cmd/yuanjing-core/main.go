// yuanjing-core is the notarization service's entrypoint: it wires every
// internal/ singleton into the AppContext, then runs the HTTP server
// until SIGTERM/SIGINT.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/yuanjing-labs/yuanjing-core/internal/config"
	"github.com/yuanjing-labs/yuanjing-core/internal/evidence"
	"github.com/yuanjing-labs/yuanjing-core/internal/export"
	"github.com/yuanjing-labs/yuanjing-core/internal/fingerprint"
	"github.com/yuanjing-labs/yuanjing-core/internal/httpserver"
	"github.com/yuanjing-labs/yuanjing-core/internal/identity"
	"github.com/yuanjing-labs/yuanjing-core/internal/kvstore"
	"github.com/yuanjing-labs/yuanjing-core/internal/mmrstore"
	"github.com/yuanjing-labs/yuanjing-core/internal/tlsutil"
	"github.com/yuanjing-labs/yuanjing-core/internal/whitelist"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := config.LoadFromEnv()

	if err := os.MkdirAll(dirOf(cfg.KVPath), 0o755); err != nil {
		log.Fatalf("failed to create kv data dir: %v", err)
	}
	if err := os.MkdirAll(dirOf(cfg.KeyPath), 0o755); err != nil {
		log.Fatalf("failed to create identity data dir: %v", err)
	}

	kv, err := kvstore.Open(cfg.KVPath)
	if err != nil {
		log.Fatalf("failed to open kv store: %v", err)
	}

	// Signer: prefer KMS in prod, fall back to the file-persisted local
	// identity for dev/testing.
	signer, err := selectSigner(cfg)
	if err != nil {
		log.Fatalf("failed to initialize signer: %v", err)
	}
	log.Printf("identity configured (signer_id=%s)", signer.SignerID())

	mmr, err := mmrstore.Open(kv)
	if err != nil {
		log.Fatalf("failed to open mmr store: %v", err)
	}
	log.Printf("mmr opened (leaf_count=%d)", mmr.LeafCount())

	wl, err := whitelist.Open(kv)
	if err != nil {
		log.Fatalf("failed to open whitelist registry: %v", err)
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(ctx); err != nil {
			cancel()
			log.Fatalf("failed to ping postgres: %v", err)
		}
		cancel()

		mirror, err := whitelist.NewPGMirror(db)
		if err != nil {
			log.Fatalf("failed to initialize whitelist pg mirror: %v", err)
		}
		wl.SetMirror(mirror)
		log.Println("whitelist postgres mirror configured")
	}

	pool := fingerprint.NewPool(cfg.FingerprintPoolSize)

	orch := &evidence.Orchestrator{
		Whitelist:   wl,
		Fingerprint: pool,
		Signer:      signer,
		MMR:         mmr,
	}

	// --- Evidence export streamer wiring (Kafka + S3, best-effort) ---
	var exporter *export.Streamer
	var exporterCancel context.CancelFunc
	if cfg.ExportEnabled() {
		producer, err := export.NewKafkaProducer(export.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("failed to initialize kafka producer: %v", err)
		}
		archiver, err := export.NewS3Archiver(context.Background(), cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			log.Fatalf("failed to initialize s3 archiver: %v", err)
		}

		exporter = export.NewStreamer(producer, archiver, 0, 0)

		ctxExp, cancel := context.WithCancel(context.Background())
		exporterCancel = cancel
		go exporter.Run(ctxExp)
		log.Printf("evidence export streamer started (kafka_topic=%s s3_bucket=%s)", cfg.KafkaTopic, cfg.S3Bucket)
	} else {
		log.Println("evidence export streamer not started: KAFKA_BROKERS, KAFKA_TOPIC, and S3_BUCKET must all be set to enable")
	}

	app := &httpserver.AppContext{
		Whitelist:    wl,
		Orchestrator: orch,
		MMR:          mmr,
		Signer:       signer,
		Exporter:     exporter,
		AuthSecret:   cfg.AuthHS256Secret,
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      httpserver.NewRouter(app),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
		tlsCfg, err := tlsutil.NewConfigFromFiles(cfg.TLSCertPath, cfg.TLSKeyPath, cfg.TLSClientCAPath, cfg.RequireMTLS)
		if err != nil {
			log.Fatalf("failed to initialize TLS config: %v", err)
		}
		srv.TLSConfig = tlsCfg
		go func() {
			log.Printf("starting yuanjing-core server (TLS) on %s", cfg.ListenAddr)
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				log.Fatalf("server failed: %v", err)
			}
		}()
	} else {
		go func() {
			log.Printf("starting yuanjing-core server on %s", cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("server failed: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}

	if exporterCancel != nil {
		exporterCancel()
		time.Sleep(2 * time.Second)
	}

	if db != nil {
		_ = db.Close()
	}
	if err := kv.Close(); err != nil {
		log.Printf("kv store close error: %v", err)
	}
	log.Println("server stopped")
}

func selectSigner(cfg *config.Config) (identity.Signer, error) {
	if cfg.RequireKMS {
		if cfg.KMSEndpoint == "" {
			return nil, fmt.Errorf("REQUIRE_KMS=true but KMS_ENDPOINT not configured")
		}
		return identity.NewKMSSigner(cfg.KMSEndpoint, cfg.RequireKMS)
	}
	if cfg.KMSEndpoint != "" {
		if ks, err := identity.NewKMSSigner(cfg.KMSEndpoint, false); err == nil && ks != nil {
			log.Printf("KMS signer configured (endpoint=%s)", cfg.KMSEndpoint)
			return ks, nil
		} else if err != nil {
			log.Printf("KMS signer not available: %v — falling back to local identity", err)
		}
	}
	return identity.LoadOrGenerate(cfg.KeyPath, cfg.SignerID)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
