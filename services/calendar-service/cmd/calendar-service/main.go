package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fitdesk/leadcal/libs/clock"
	"github.com/fitdesk/leadcal/libs/config"
	"github.com/fitdesk/leadcal/libs/db"
	"github.com/fitdesk/leadcal/libs/grpcx"
	"github.com/fitdesk/leadcal/libs/httpx"
	"github.com/fitdesk/leadcal/libs/kafkax"
	otelx "github.com/fitdesk/leadcal/libs/otel"
	"github.com/fitdesk/leadcal/libs/runtime"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/availability"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/calendar"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/calsync"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/consumer"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/events"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/handlers"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/hours"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/inbox"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/leads"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/ledger"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/metrics"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/notify"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/outbox"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/reminders"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/storage"
)

func main() {
	var cfg Config
	if err := config.Load("CALENDAR", &cfg); err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.ServiceName, cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("calendar-service exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	if _, err := config.Port("PORT", cfg.Port); err != nil {
		return err
	}
	if err := cfg.Hours.Validate(); err != nil {
		return errors.Wrap(err, "working hours")
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, cfg.ServiceName, cfg.Otel)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer runtime.Shutdown(logger, "otel", 5*time.Second, otelShutdown)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	readyChecks := []runtime.ReadyCheck{
		{Name: "kafka", Optional: true, Check: kafkax.ReadyCheck(cfg.Outbox.Brokers)},
	}

	var (
		store storage.Store
		in    inbox.Inbox
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return errors.Wrap(err, "db connection failed")
		}
		defer pool.Close()
		store = storage.NewPostgresStore(pool)
		in = inbox.NewRepository(pool)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	} else {
		logger.Warn("DATABASE_URL not set; appointments are kept in memory")
		store = storage.NewMemoryStore()
		mem, err := inbox.NewMemory(cfg.InboxSize)
		if err != nil {
			return err
		}
		in = mem
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Optional: true, Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	var hoursProvider hours.Provider = hours.NewStaticProvider(cfg.Hours, nil)
	var hoursSaver handlers.HoursSaver
	if rdb != nil {
		redisHours := hours.NewRedisProvider(rdb, "", hoursProvider, logger)
		hoursProvider, hoursSaver = redisHours, redisHours
	}
	loc, err := cfg.Hours.Loc()
	if err != nil {
		return err
	}

	var origin leads.Directory
	if cfg.LeadsAPIURL != "" {
		origin = leads.NewHTTPDirectory(cfg.LeadsAPIURL, cfg.LeadsAPITimeout)
	}
	leadCache, err := leads.NewCache(origin, cfg.LeadCacheSize)
	if err != nil {
		return err
	}

	clk := clock.NewRealClock()
	dispatcher := events.NewDispatcher(logger, m, cfg.Events)
	book := ledger.New(store, ledger.Options{
		Events:  dispatcher,
		Leads:   leadCache,
		Clock:   clk,
		Logger:  logger,
		Metrics: m,
	})

	var sms notify.SMSSender = notify.NoopSMSSender{}
	if cfg.SMSWebhookURL != "" {
		sms = notify.NewWebhookSMSSender(cfg.SMSWebhookURL, cfg.SMSWebhookToken)
	}
	notifier := notify.NewNotifier(notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom), sms, loc, logger)
	scheduler := reminders.New(book, notifier, dispatcher, clk, logger, m, cfg.Reminders)

	adapter := calsync.NewAdapter(cfg.SyncDefaultProvider, cfg.SyncRetry, syncProviders(cfg, logger)...)
	syncer := calsync.NewSyncer(adapter, book, dispatcher, logger, m)

	svc := calendar.New(calendar.Deps{
		Ledger:       book,
		Availability: availability.NewGenerator(hoursProvider, book),
		Reminders:    scheduler,
		Sync:         syncer,
		Clock:        clk,
	})
	svc.Subscribe(dispatcher)

	publisher := outbox.NewPublisher(logger, cfg.Outbox)
	dispatcher.SubscribeAll("kafka_outbox", publisher.Handle)
	dispatcher.Subscribe(events.ReminderDeadLettered, "dlq_log", func(_ context.Context, ev events.Event) error {
		logger.Warn("reminder dead-lettered", "appointment_id", ev.Appointment.ID, "reason", ev.Reason, "err", ev.Error)
		return nil
	})

	leadConsumer := consumer.New(logger, in, cfg.Consumer, consumer.LeadHandler(leadCache, logger))

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	handlers.NewAppointmentHandler(svc, logger).Register(mux)
	handlers.NewHoursHandler(hoursProvider, hoursSaver, logger).Register(mux)

	middleware := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger, m.ObserveHTTP),
		httpx.WithCORS(httpx.DefaultCORSPolicy(cfg.CORSOrigins)),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(cfg.RequestTimeout),
	}
	if cfg.RateLimit > 0 {
		if rdb != nil {
			middleware = append(middleware, httpx.NewRedisRateLimiter(rdb, cfg.RateLimit, cfg.RateLimitWindow, "leadcal:rl").Middleware(logger, cfg.RateLimitFailOpen))
		} else {
			middleware = append(middleware, httpx.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow).Middleware())
		}
	}
	httpHandler := otelhttp.NewHandler(httpx.Chain(mux, middleware...), "calendar")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var grpcChecks []func(context.Context) error
	for _, c := range readyChecks {
		if !c.Optional {
			grpcChecks = append(grpcChecks, c.Check)
		}
	}
	grpcServer := grpcx.NewServer(logger, grpcChecks)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		publisher.Run(gctx)
		return nil
	})
	if leadConsumer != nil {
		g.Go(func() error {
			leadConsumer.Run(gctx)
			return nil
		})
	} else {
		logger.Warn("lead consumer disabled (no kafka brokers configured)")
	}
	g.Go(func() error {
		return grpcServer.Serve(gctx, ":"+cfg.GRPCPort)
	})
	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		runtime.Shutdown(logger, "http server", 10*time.Second, srv.Shutdown)
		return nil
	})

	return g.Wait()
}

// syncProviders builds one provider per configured name. Names with a webhook URL post to
// it, falling back to a local id when allowed; the rest issue local ids.
func syncProviders(cfg Config, logger *slog.Logger) []calsync.Provider {
	var out []calsync.Provider
	for _, raw := range cfg.SyncProviders {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		url := cfg.SyncWebhooks[name]
		if url == "" {
			logger.Info("calendar provider uses local ids", "provider", name)
			out = append(out, calsync.NewLocalProvider(name))
			continue
		}
		webhook := calsync.NewWebhookProvider(name, url, cfg.SyncWebhookToken, cfg.SyncTimeout)
		out = append(out, calsync.NewFallbackProvider(webhook, calsync.NewLocalProvider(name), cfg.SyncAllowFallback))
	}
	return out
}
