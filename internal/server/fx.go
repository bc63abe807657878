// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-intake/internal/api"
	"github.com/JakeFAU/lead-intake/internal/botcheck"
	"github.com/JakeFAU/lead-intake/internal/clock/system"
	"github.com/JakeFAU/lead-intake/internal/config"
	"github.com/JakeFAU/lead-intake/internal/dispatcher"
	"github.com/JakeFAU/lead-intake/internal/hash/sha256"
	"github.com/JakeFAU/lead-intake/internal/id/uuid"
	"github.com/JakeFAU/lead-intake/internal/intake"
	"github.com/JakeFAU/lead-intake/internal/lead"
	"github.com/JakeFAU/lead-intake/internal/logging"
	"github.com/JakeFAU/lead-intake/internal/phone"
	memorypublisher "github.com/JakeFAU/lead-intake/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/lead-intake/internal/publisher/pubsub"
	"github.com/JakeFAU/lead-intake/internal/publisher/rabbitmq"
	"github.com/JakeFAU/lead-intake/internal/sinks/archive"
	"github.com/JakeFAU/lead-intake/internal/sinks/conversion"
	"github.com/JakeFAU/lead-intake/internal/sinks/crm"
	"github.com/JakeFAU/lead-intake/internal/sinks/events"
	"github.com/JakeFAU/lead-intake/internal/sinks/sheets"
	"github.com/JakeFAU/lead-intake/internal/sinks/webhook"
	gcsstorage "github.com/JakeFAU/lead-intake/internal/storage/gcs"
	localstorage "github.com/JakeFAU/lead-intake/internal/storage/local"
	memorystorage "github.com/JakeFAU/lead-intake/internal/storage/memory"
	pgstore "github.com/JakeFAU/lead-intake/internal/storage/postgres"
	"github.com/JakeFAU/lead-intake/internal/storage/sqlite"
	"github.com/JakeFAU/lead-intake/internal/throttle"
)

// Sink names for the two webhook deliveries.
const (
	PrimaryWebhookSink = "primary_webhook"
	LegacyWebhookSink  = "legacy_webhook"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	dispatch     *dispatcher.Dispatcher
	storage      *storage.Client
	pubsub       *gcppublisher.Publisher
	rabbit       *rabbitmq.Publisher
	pgLedger     *pgstore.Ledger
	sqliteLedger *sqlite.Ledger
	readiness    []api.ReadinessCheck
	clock        lead.Clock
	ids          lead.IDGenerator
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Only non-sensitive fields are logged.
	type sanitizedConfig struct {
		ServerPort  int    `json:"server_port"`
		Environment string `json:"environment,omitempty"`
		Storage     string `json:"storage"`
	}
	logger.Info("creating application", zap.Any("config", sanitizedConfig{
		ServerPort:  cfg.Server.Port,
		Environment: cfg.App.Environment,
		Storage:     cfg.Storage.Backend,
	}))
	return &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// SinkNames lists the registered dispatch sinks.
func (a *App) SinkNames() []string {
	return a.dispatch.SinkNames()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	grace := time.Duration(a.cfg.Server.ShutdownSeconds) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	// Shutdown waits for in-flight submissions, so their dispatch completes.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(_ context.Context) error {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		// Syncing stderr fails on some platforms; not worth failing shutdown.
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	if a.rabbit != nil {
		if err := a.rabbit.Close(); err != nil {
			a.logger.Warn("amqp close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgLedger != nil {
		a.pgLedger.Close()
	}
	if a.sqliteLedger != nil {
		if err := a.sqliteLedger.Close(); err != nil {
			a.logger.Warn("sqlite ledger close failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger wires every component around an existing logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	app.logger.Info("building application dependencies")

	thr, err := throttle.New(throttle.Config{
		Requests:   cfg.Throttle.Requests,
		Window:     cfg.ThrottleWindow(),
		MaxClients: cfg.Throttle.MaxClients,
	}, app.clock)
	if err != nil {
		return nil, fmt.Errorf("throttle init failed: %w", err)
	}

	phones, err := setupPhone(app)
	if err != nil {
		return nil, err
	}

	if cfg.Recaptcha.SecretKey == "" {
		app.logger.Warn("no reCAPTCHA secret configured; bot check will pass every token")
	}
	bot := botcheck.New(botcheck.Config{
		SecretKey: cfg.Recaptcha.SecretKey,
		VerifyURL: cfg.Recaptcha.VerifyURL,
		MinScore:  cfg.Recaptcha.MinScore,
		Timeout:   time.Duration(cfg.Recaptcha.TimeoutSeconds) * time.Second,
	}, app.logger.Named("botcheck"))

	sinks, err := setupSinks(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	app.dispatch = dispatcher.New(sinks, dispatcher.Options{
		PrimaryEnabled: cfg.Dispatch.Primary.Enabled,
		SinkTimeout:    cfg.SinkTimeout(),
	}, app.logger.Named("dispatcher"))
	app.logger.Info("dispatcher ready", zap.Strings("sinks", app.dispatch.SinkNames()))

	ledger, err := setupLedger(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	svc, err := intake.New(intake.Deps{
		Throttle:   thr,
		Bot:        bot,
		Phone:      phones,
		Dispatcher: app.dispatch,
		Ledger:     ledger,
		Clock:      app.clock,
		Logger:     app.logger.Named("intake"),
	})
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("intake init failed: %w", err)
	}

	app.apiServer = api.NewServer(svc, app.ids, api.Options{
		Development:    cfg.Development(),
		RequestTimeout: cfg.RequestTimeout(),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		CORSOrigins:    cfg.CORS.AllowedOrigins,
		Readiness:      app.readiness,
	}, app.logger)

	return app, nil
}

func setupPhone(app *App) (*phone.Validator, error) {
	cfg := app.cfg.Phone
	var client phone.Client
	if cfg.APIKey == "" {
		app.logger.Warn("no phone validation API key configured; using heuristic validation")
	} else {
		numverify, err := phone.NewNumverifyClient(phone.NumverifyConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("phone client init failed: %w", err)
		}
		client = numverify
		app.logger.Info("phone validation service enabled")
	}
	v, err := phone.New(phone.Config{
		DefaultCountry: cfg.DefaultCountry,
		CacheTTL:       app.cfg.PhoneCacheTTL(),
		CacheSize:      cfg.CacheSize,
	}, client, app.clock, app.logger.Named("phone"))
	if err != nil {
		return nil, fmt.Errorf("phone validator init failed: %w", err)
	}
	return v, nil
}

// setupSinks registers every configured sink. Broadcast order is the order
// results are reported in.
func setupSinks(ctx context.Context, app *App) (dispatcher.Sinks, error) {
	cfg := app.cfg
	timeout := cfg.SinkTimeout()
	var sinks dispatcher.Sinks

	if cfg.Dispatch.Primary.URL != "" {
		primary, err := webhook.New(webhook.Config{Name: PrimaryWebhookSink, URL: cfg.Dispatch.Primary.URL, Timeout: timeout},
			app.logger.Named(PrimaryWebhookSink))
		if err != nil {
			return sinks, fmt.Errorf("primary webhook init failed: %w", err)
		}
		sinks.Primary = primary
		app.logger.Info("primary webhook configured", zap.Bool("enabled", cfg.Dispatch.Primary.Enabled))
	} else {
		app.logger.Info("primary webhook not configured")
	}

	if cfg.CRM.APIKey != "" {
		client, err := crm.New(crm.Config{
			APIKey:     cfg.CRM.APIKey,
			LocationID: cfg.CRM.LocationID,
			PipelineID: cfg.CRM.PipelineID,
			StageID:    cfg.CRM.StageID,
			BaseURL:    cfg.CRM.BaseURL,
			Timeout:    timeout,
		}, app.logger.Named("crm"))
		if err != nil {
			return sinks, fmt.Errorf("crm client init failed: %w", err)
		}
		sinks.CRM = client
	} else {
		app.logger.Warn("crm not configured; business leads rely on the primary webhook")
	}

	if cfg.Dispatch.Legacy.URL != "" {
		legacy, err := webhook.New(webhook.Config{Name: LegacyWebhookSink, URL: cfg.Dispatch.Legacy.URL, Timeout: timeout},
			app.logger.Named(LegacyWebhookSink))
		if err != nil {
			return sinks, fmt.Errorf("legacy webhook init failed: %w", err)
		}
		sinks.Broadcast = append(sinks.Broadcast, legacy)
	} else {
		app.logger.Info("legacy webhook not configured")
	}

	sheetSink, err := setupSheets(ctx, app)
	if err != nil {
		return sinks, err
	}
	if sheetSink != nil {
		sinks.Broadcast = append(sinks.Broadcast, sheetSink)
	}

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return sinks, err
	}
	archiveSink, err := archive.New(blobStore, cfg.Storage.Prefix, app.ids, app.clock)
	if err != nil {
		return sinks, fmt.Errorf("archive sink init failed: %w", err)
	}
	sinks.Broadcast = append(sinks.Broadcast, archiveSink)

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return sinks, err
	}
	eventSink, err := events.New(publisher)
	if err != nil {
		return sinks, fmt.Errorf("event sink init failed: %w", err)
	}
	sinks.Broadcast = append(sinks.Broadcast, eventSink)

	if cfg.Conversion.Enabled {
		conv, err := conversion.New(conversion.Config{
			APIURL:         cfg.Conversion.APIURL,
			CustomerID:     cfg.Conversion.CustomerID,
			APIKey:         cfg.Conversion.APIKey,
			DeveloperToken: cfg.Conversion.DeveloperToken,
			PropertyLabel:  cfg.Conversion.PropertyLabel,
			BusinessLabel:  cfg.Conversion.BusinessLabel,
			Currency:       cfg.Conversion.Currency,
			Timeout:        timeout,
		}, sha256.New())
		if err != nil {
			return sinks, fmt.Errorf("conversion sink init failed: %w", err)
		}
		sinks.Broadcast = append(sinks.Broadcast, conv)
	}
	return sinks, nil
}

func setupSheets(ctx context.Context, app *App) (*sheets.Sink, error) {
	cfg := app.cfg.Sheets
	if !app.cfg.SheetsEnabled() {
		app.logger.Info("spreadsheet sink not configured")
		return nil, nil
	}
	creds := []byte(cfg.CredentialsJSON)
	if len(creds) == 0 {
		var err error
		creds, err = os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read sheets credentials: %w", err)
		}
	}
	client, err := sheets.NewGoogleAPI(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("sheets client init failed: %w", err)
	}
	sink, err := sheets.New(client, sheets.Config{
		PropertySpreadsheetID: cfg.PropertySpreadsheetID,
		BusinessSpreadsheetID: cfg.BusinessSpreadsheetID,
		SheetName:             cfg.SheetName,
	}, app.logger.Named("sheets"))
	if err != nil {
		return nil, fmt.Errorf("sheets sink init failed: %w", err)
	}
	return sink, nil
}

func setupStorage(ctx context.Context, app *App) (lead.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS archive backend")
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: app.cfg.Storage.GCSBucket,
			Labels: map[string]string{"environment": app.cfg.App.Environment},
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS archive backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return blobStore, nil
	case config.StorageLocal:
		app.logger.Info("using local archive backend")
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local archive backend", zap.String("path", app.cfg.Storage.LocalDir))
		return blobStore, nil
	default:
		app.logger.Info("using in-memory archive backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (lead.Publisher, error) {
	if app.cfg.AMQP.URL != "" {
		pub, err := rabbitmq.New(rabbitmq.Config{URL: app.cfg.AMQP.URL, Exchange: app.cfg.AMQP.Exchange})
		if err != nil {
			return nil, fmt.Errorf("amqp publisher init failed: %w", err)
		}
		app.rabbit = pub
		app.logger.Info("AMQP publisher initialized", zap.String("exchange", app.cfg.AMQP.Exchange))
		return pub, nil
	}
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic or AMQP broker configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.New(ctx, gcppublisher.Config{
		ProjectID: app.cfg.PubSub.ProjectID,
		TopicName: app.cfg.PubSub.TopicName,
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubsub = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func setupLedger(ctx context.Context, app *App) (lead.Ledger, error) {
	if app.cfg.DB.DSN == "" && app.cfg.Ledger.SQLitePath != "" {
		ledger, err := sqlite.NewLedger(ctx, app.cfg.Ledger.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite ledger init failed: %w", err)
		}
		app.sqliteLedger = ledger
		app.readiness = append(app.readiness, api.ReadinessCheck{Name: "ledger", Check: ledger.Ping})
		app.logger.Info("sqlite lead ledger initialized", zap.String("path", app.cfg.Ledger.SQLitePath))
		return ledger, nil
	}
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, using in-memory lead ledger")
		ledger, err := memorystorage.NewLedger(app.cfg.Ledger.Size, app.cfg.LedgerTTL(), app.clock)
		if err != nil {
			return nil, fmt.Errorf("memory ledger init failed: %w", err)
		}
		return ledger, nil
	}
	ledger, err := pgstore.NewLedger(ctx, pgstore.LedgerConfig{
		DSN:      app.cfg.DB.DSN,
		Table:    app.cfg.DB.Table,
		MaxConns: app.cfg.DB.MaxConns,
		MinConns: app.cfg.DB.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("lead ledger init failed: %w", err)
	}
	app.pgLedger = ledger
	app.readiness = append(app.readiness, api.ReadinessCheck{Name: "ledger", Check: ledger.Ping})
	app.logger.Info("lead ledger initialized", zap.String("table", app.cfg.DB.Table))
	return ledger, nil
}
