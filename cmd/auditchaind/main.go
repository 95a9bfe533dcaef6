// auditchaind is the audit chain server: a tamper-evident compliance
// log for regulated healthcare actions, with live alerting for
// violations.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caretrust/auditchain/pkg/alert"
	"github.com/caretrust/auditchain/pkg/api"
	"github.com/caretrust/auditchain/pkg/auth"
	"github.com/caretrust/auditchain/pkg/compliance"
	"github.com/caretrust/auditchain/pkg/compliance/celrule"
	"github.com/caretrust/auditchain/pkg/compliance/gdpr"
	"github.com/caretrust/auditchain/pkg/compliance/hipaa"
	"github.com/caretrust/auditchain/pkg/compliance/nmc"
	"github.com/caretrust/auditchain/pkg/config"
	"github.com/caretrust/auditchain/pkg/contracts"
	"github.com/caretrust/auditchain/pkg/crypto"
	"github.com/caretrust/auditchain/pkg/ledger"
	"github.com/caretrust/auditchain/pkg/ledger/store"
	"github.com/caretrust/auditchain/pkg/observability"
	"github.com/caretrust/auditchain/pkg/service"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // embedded SQLite driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands. No arguments means serve.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stderr)
	}
	switch args[1] {
	case "serve", "server":
		return runServe(stderr)
	case "verify":
		return runVerify(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: auditchaind [serve|verify|help]")
	fmt.Fprintln(w, "  serve   run the audit chain server (default)")
	fmt.Fprintln(w, "  verify  verify the persisted chain and exit")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// openStore selects the ledger store from the DSN.
func openStore(ctx context.Context, dsn string) (ledger.Store, error) {
	if dsn == "memory" {
		return store.NewMemoryStore(), nil
	}

	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging %s store: %w", driver, err)
	}

	s := store.NewSQLStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// buildSigner derives the active ML-DSA key from the configured master
// secret. Refusing to start without one keeps the chain signed.
func buildSigner(cfg *config.Config) (*crypto.MLDSASigner, *crypto.KeyRing, error) {
	if cfg.SigningMasterKey == "" {
		return nil, nil, fmt.Errorf("SIGNING_MASTER_KEY is required")
	}
	seed, err := crypto.DeriveSeed([]byte(cfg.SigningMasterKey), cfg.SigningKeyID)
	if err != nil {
		return nil, nil, err
	}
	signer := crypto.NewMLDSASignerFromSeed(seed, cfg.SigningKeyID)
	ring := crypto.NewKeyRing()
	ring.Add(cfg.SigningKeyID, signer.PublicKey())
	return signer, ring, nil
}

// buildRegistry assembles validators from jurisdiction profiles. With
// no profiles directory the full built-in set is enabled.
func buildRegistry(cfg *config.Config, log *slog.Logger) (*compliance.Registry, *gdpr.ConsentStore, error) {
	reg := compliance.NewRegistry(log)
	consents := gdpr.NewConsentStore()

	profiles, err := config.LoadAllProfiles(cfg.ProfilesDir)
	if err != nil || len(profiles) == 0 {
		log.Info("no jurisdiction profiles found, enabling built-in validators")
		reg.Register(hipaa.New())
		reg.Register(gdpr.New(consents))
		reg.Register(nmc.New(nmc.NewPractitionerRegistry()))
		return reg, consents, nil
	}

	for code, p := range profiles {
		switch p.Validator {
		case "hipaa":
			reg.Register(hipaa.New())
		case "gdpr":
			reg.Register(gdpr.New(consents))
		case "nmc":
			reg.Register(nmc.New(nmc.NewPractitionerRegistry()))
		case "cel":
			severity := contracts.Severity(p.RuleSeverity)
			if severity == "" {
				severity = contracts.SeverityWarning
			}
			v, err := celrule.New(strings.ToUpper(code), p.Rules, severity)
			if err != nil {
				return nil, nil, fmt.Errorf("profile %s: %w", code, err)
			}
			reg.Register(v)
		default:
			return nil, nil, fmt.Errorf("profile %s: unknown validator %q", code, p.Validator)
		}
		log.Info("jurisdiction enabled", "code", code, "validator", p.Validator)
	}
	return reg, consents, nil
}

func runServe(stderr io.Writer) int {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(stderr, "store: %v\n", err)
		return 1
	}

	signer, ring, err := buildSigner(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "signer: %v\n", err)
		return 1
	}

	l, err := ledger.Open(ctx, st, signer, ring, log)
	if err != nil {
		fmt.Fprintf(stderr, "ledger: %v\n", err)
		return 1
	}
	defer l.Close()

	reg, consents, err := buildRegistry(cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "registry: %v\n", err)
		return 1
	}

	// Recorded consent actions drive the GDPR consent state: the chain
	// is the system of record, the store its projection.
	l.RegisterHandler(func(entry ledger.Entry) {
		if err := consents.Apply(entry.Action); err != nil {
			log.Warn("consent action not applied",
				"sequence", entry.Sequence, "error", err)
		}
	})

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "auditchain",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTLPEndpoint != "",
		ExportInterval: 15 * time.Second,
	})
	if err != nil {
		fmt.Fprintf(stderr, "observability: %v\n", err)
		return 1
	}
	l.RegisterHandler(obs.LedgerHandler())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	var cursors alert.CursorStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			fmt.Fprintf(stderr, "redis: %v\n", err)
			return 1
		}
		cursors = alert.NewRedisCursors(redis.NewClient(opts), "")
		log.Info("alert cursors backed by redis")
	}

	dist := alert.NewDistributor(l, cursors, alert.Config{Metrics: obs}, log)
	l.RegisterHandler(dist.HandleEntry)

	svc := service.New(l, reg, obs, log)
	srv := api.NewServer(svc, dist, log)
	handler := srv.Routes(
		auth.NewValidator([]byte(cfg.AuthSecret)),
		api.NewGlobalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(stderr, "server: %v\n", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
	return 0
}

// runVerify opens the persisted chain read-only, sweeps it end to end
// and reports the first violation, if any.
func runVerify(stdout, stderr io.Writer) int {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)

	ctx := context.Background()
	st, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(stderr, "store: %v\n", err)
		return 1
	}
	defer st.Close()

	var ring *crypto.KeyRing
	if cfg.SigningMasterKey != "" {
		_, r, err := buildSigner(cfg)
		if err != nil {
			fmt.Fprintf(stderr, "signer: %v\n", err)
			return 1
		}
		ring = r
	} else {
		fmt.Fprintln(stderr, "warning: SIGNING_MASTER_KEY not set, skipping signature checks")
	}

	l, err := ledger.Open(ctx, st, nil, ring, log)
	if err != nil {
		fmt.Fprintf(stderr, "ledger: %v\n", err)
		return 1
	}

	head, digest := l.Head()
	if err := l.VerifyChain(ctx, 0, 0); err != nil {
		fmt.Fprintf(stderr, "FAIL: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "OK: chain intact through sequence %d (head %s)\n", head, digest)
	return 0
}
