// Command signctld runs the multi-tenant signing-key custody control
// plane as a long-running daemon: policy store, rotation engine,
// rotation scheduler, incident engine with health monitor, and evidence
// pack builder, all wired from a single YAML configuration file.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/systmms/signctl/internal/backend"
	"github.com/systmms/signctl/internal/ca"
	"github.com/systmms/signctl/internal/canarysource"
	"github.com/systmms/signctl/internal/config"
	"github.com/systmms/signctl/internal/evidence"
	"github.com/systmms/signctl/internal/health"
	"github.com/systmms/signctl/internal/incident"
	"github.com/systmms/signctl/internal/logging"
	"github.com/systmms/signctl/internal/metrics"
	"github.com/systmms/signctl/internal/notify"
	"github.com/systmms/signctl/internal/rotationengine"
	"github.com/systmms/signctl/internal/scheduler"
	"github.com/systmms/signctl/internal/store"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "signctld: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		debug      bool
		showVer    bool
	)
	flag.StringVar(&configPath, "config", "", "path to signctld.yaml (defaults built in if omitted)")
	flag.BoolVar(&debug, "debug", false, "enable debug-level console logging")
	flag.BoolVar(&showVer, "version", false, "print version and exit")
	flag.Parse()

	if showVer {
		fmt.Printf("signctld %s (%s)\n", version, commit)
		return nil
	}

	log := logging.New(debug)
	defer func() { _ = log.Sync() }()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer closeStore()

	registry := backend.NewRegistry()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := wire(rootCtx, cfg, st, registry, log)
	if err != nil {
		return fmt.Errorf("wiring control plane: %w", err)
	}

	app.notifier.Start(rootCtx)
	app.scheduler.Start(rootCtx)
	app.monitor.Start(rootCtx)
	if err := app.metricsSrv.Start(); err != nil {
		return fmt.Errorf("starting metrics server: %w", err)
	}

	log.Infow("signctld started", "version", version, "store_driver", cfg.Store.Driver)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infow("signctld shutting down")
	cancel()
	app.monitor.Stop()
	app.scheduler.Stop()
	app.notifier.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.metricsSrv.Stop(shutdownCtx); err != nil {
		log.Warnw("metrics server shutdown error", "error", err)
	}

	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func openStore(cfg config.StoreConfig) (store.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres connection: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, nil, fmt.Errorf("pinging postgres: %w", err)
		}
		if err := store.RunMigrations(db); err != nil {
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		sqlStore := store.NewSQLStoreForTesting(db)
		return sqlStore, func() { _ = db.Close() }, nil
	default:
		return store.NewMemStore(), func() {}, nil
	}
}

// controlPlane holds every component that owns a background goroutine or
// needs a reference another component wires in.
type controlPlane struct {
	notifier     *notify.Manager
	scheduler    *scheduler.Scheduler
	rotation     *rotationengine.Engine
	incidents    *incident.Engine
	monitor      *health.Monitor
	evidenceBldr *evidence.Builder
	metricsSrv   *metrics.Server
}

func wire(_ context.Context, cfg *config.Config, st store.Store, registry *backend.Registry, log *logging.Logger) (*controlPlane, error) {
	metrics.Init()
	notify.InitMetrics()

	notifier := buildNotifier(cfg.Notifications)

	sampler := buildCanarySampler(cfg.Rotation, registry)

	authority, err := buildCertAuthority(cfg.Rotation)
	if err != nil {
		return nil, err
	}

	rotationEngine := rotationengine.NewEngine(
		st,
		rotationBackendResolver{registry},
		provisionerResolver{registry},
		authority,
		sampler,
		cfg.Rotation,
		log,
	)
	rotationEngine.SetNotifier(notifier)

	evidenceBldr := evidence.NewBuilder(cfg.Evidence, st, evidenceBackendResolver{registry}, log)
	rotationEngine.SetEvidenceBuilder(evidenceBldr)

	sched := scheduler.NewScheduler(st, rotationEngine, notifier, cfg.Scheduler, log)
	rotationEngine.SetScheduler(sched)

	incidentEngine := incident.NewEngine(st, notifier, cfg.Incident, log)
	incidentEngine.SetRotationTrigger(rotationEngine)
	incidentEngine.SetBackendFailover(&registryFailover{registry: registry})

	monitor := health.NewMonitor(cfg.Monitor, st, healthBackendResolver{registry: registry, store: st}, nil, incidentEngine, log)

	metricsSrv := metrics.NewServer(metrics.DefaultServerConfig(), log)

	return &controlPlane{
		notifier:     notifier,
		scheduler:    sched,
		rotation:     rotationEngine,
		incidents:    incidentEngine,
		monitor:      monitor,
		evidenceBldr: evidenceBldr,
		metricsSrv:   metricsSrv,
	}, nil
}

func buildCanarySampler(cfg config.RotationConfig, _ *backend.Registry) rotationengine.CanarySampler {
	if cfg.CanaryAssetSourceURL == "" {
		return rotationengine.FixtureSampler{}
	}
	return rotationengine.NewUniformSampler(canarysource.NewHTTPSource(cfg.CanaryAssetSourceURL))
}

func buildCertAuthority(cfg config.RotationConfig) (rotationengine.CertAuthority, error) {
	rootDays := cfg.RootValidityDays
	if rootDays <= 0 {
		rootDays = 3650
	}
	leafDays := cfg.LeafValidityDays
	if leafDays <= 0 {
		leafDays = 397
	}
	return ca.NewSelfSigned(time.Duration(rootDays)*24*time.Hour, time.Duration(leafDays)*24*time.Hour)
}

func buildNotifier(cfg config.NotificationConfig) *notify.Manager {
	mgr := notify.NewManager(notify.DefaultQueueSize)

	if cfg.Slack != nil {
		mgr.RegisterProvider(notify.NewSlackProvider(notify.SlackConfig{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Events:     cfg.Slack.Events,
		}))
	}
	if cfg.Email != nil {
		mgr.RegisterProvider(notify.NewEmailProvider(notify.EmailConfig{
			SMTP: notify.SMTPConfig{
				Host:     cfg.Email.SMTP.Host,
				Port:     cfg.Email.SMTP.Port,
				Username: cfg.Email.SMTP.Username,
				Password: cfg.Email.SMTP.Password,
				TLS:      cfg.Email.SMTP.TLS,
			},
			From:      cfg.Email.From,
			To:        cfg.Email.To,
			Events:    cfg.Email.Events,
			BatchMode: cfg.Email.BatchMode,
		}))
	}
	if cfg.PagerDuty != nil {
		mgr.RegisterProvider(notify.NewPagerDutyProvider(notify.PagerDutyConfig{
			IntegrationKey: cfg.PagerDuty.IntegrationKey,
			ServiceID:      cfg.PagerDuty.ServiceID,
			Severity:       cfg.PagerDuty.Severity,
			Events:         cfg.PagerDuty.Events,
			AutoResolve:    cfg.PagerDuty.AutoResolve,
		}))
	}
	for _, wh := range cfg.Webhooks {
		timeout := time.Duration(wh.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		var retry *notify.RetryConfig
		if wh.Retry != nil {
			retry = &notify.RetryConfig{MaxAttempts: wh.Retry.MaxAttempts, Backoff: wh.Retry.Backoff}
		}
		mgr.RegisterProvider(notify.NewWebhookProvider(notify.WebhookConfig{
			Name:            wh.Name,
			URL:             wh.URL,
			Method:          wh.Method,
			Headers:         wh.Headers,
			Events:          wh.Events,
			PayloadTemplate: wh.PayloadTemplate,
			Retry:           retry,
			Timeout:         timeout,
			Secret:          wh.Secret,
		}))
	}

	return mgr
}
