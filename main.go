package main

import (
	"context"
	"net/http"

	"workshop/bizerror"
	"workshop/client/workshop"
	"workshop/common"
	"workshop/config"
	"workshop/domain/bay"
	"workshop/domain/board"
	"workshop/domain/optimistic"
	"workshop/domain/sales"
	"workshop/domain/state"
	"workshop/domain/transition"
	"workshop/event"
	"workshop/idempotency"
	"workshop/infra/tracing"
	"workshop/notify"
	"workshop/persistence"
	"workshop/servehttp"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config failed: %v", err)
	}
	common.ConfigureLogging(cfg.ServiceName, cfg.LogFormat, cfg.LogLevel)
	logrus.Info("service start")

	if cfg.TracingEnabled {
		closer, err := tracing.InitGlobalTracer(cfg.ServiceName)
		if err != nil {
			logrus.Fatalf("init tracer failed: %v", err)
		}
		defer closer.Close()
	}

	markers, stopDatabase := openMarkerStore(cfg)
	defer stopDatabase()

	guard := idempotency.NewGuard(markers)
	cleanup, err := idempotency.StartCleanup(guard, cfg.Idempotency.CleanupSpec, cfg.Idempotency.Retention)
	if err != nil {
		logrus.Fatalf("schedule idempotency cleanup failed: %v", err)
	}
	defer cleanup.Stop()

	fields, err := state.LoadTransitionFieldTableFile(cfg.Board.TransitionFieldsFile)
	if err != nil {
		logrus.Fatalf("load transition fields failed: %v", err)
	}

	client := workshop.NewClient(workshop.Config{
		BaseURL:          cfg.WorkshopAPI.URL,
		Timeout:          cfg.WorkshopAPI.Timeout,
		FailureThreshold: cfg.WorkshopAPI.BreakerFailures,
		OpenTimeout:      cfg.WorkshopAPI.BreakerOpenTimeout,
	})
	store := event.NewStore()
	toasts := notify.NewCenter(cfg.ToastTTL)

	engine := transition.NewEngine(client, toasts)
	boardCtl := board.NewController(client, engine, fields, toasts, store)
	refresher := board.NewRefresher(boardCtl, cfg.Board.RefreshInterval,
		rate.NewLimiter(rate.Limit(cfg.Board.ManualRefreshPerSec), cfg.Board.ManualRefreshBurst), toasts)

	poller := optimistic.NewPoller(cfg.Reconciliation.PollAttempts, cfg.Reconciliation.PollInterval)
	bays := bay.NewManager(client, poller, toasts, store)
	boardCtl.ReloadWith(func(ctx context.Context) error {
		_, err := bays.Load(ctx)
		return err
	})
	salesCommands := sales.NewCommands(client, guard, toasts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// bays follow the board load
	if _, err := boardCtl.Load(ctx); err != nil {
		logrus.Warn("initial board load failed: ", err)
	}
	go func() {
		_ = refresher.Run(ctx)
	}()

	r := gin.Default()
	r.Use(tracing.TracingIngress(), bizerror.ErrorHandling())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, cfg.ServiceName)
	})

	servehttp.RegisterBoardHandler(r, boardCtl, refresher)
	servehttp.RegisterBayHandler(r, bays)
	servehttp.RegisterSalesOrderHandler(r, salesCommands)
	servehttp.RegisterNotificationHandler(r, toasts)

	if err := servehttp.StartHTTPServer(r, cfg.HTTPAddr); err != nil {
		logrus.Error("http server failed: ", err)
	}
	logrus.Info("service exiting")
}

// openMarkerStore keeps idempotency markers in mysql when DB_DRIVER_TYPE is set, in memory otherwise.
func openMarkerStore(cfg *config.Config) (idempotency.MarkerStore, func()) {
	dbConfig, err := persistence.ParseDatabaseConfigFromEnv()
	if err != nil {
		logrus.Fatalf("parse database config failed: %v", err)
	}
	if dbConfig == nil {
		logrus.Warn("no database configured, idempotency markers are kept in memory")
		return idempotency.NewCacheMarkerStore(cfg.Idempotency.Retention), func() {}
	}

	// create database (no conflict)
	if err := persistence.PrepareMysqlDatabase(dbConfig.DriverArgs); err != nil {
		logrus.Fatalf("failed to prepare database: %v", err)
	}
	ds := &persistence.DataSourceManager{DatabaseConfig: dbConfig}
	if err := ds.Start(); err != nil {
		logrus.Fatalf("database connection failed: %v", err)
	}
	persistence.ActiveDataSourceManager = ds

	markers := idempotency.NewGormMarkerStore(ds)
	if err := markers.Migrate(); err != nil {
		logrus.Fatalf("database migration failed: %v", err)
	}
	if err := ds.GormDB(context.Background()).AutoMigrate(&event.EventRecord{}).Error; err != nil {
		logrus.Fatalf("database migration failed: %v", err)
	}
	return markers, ds.Stop
}
