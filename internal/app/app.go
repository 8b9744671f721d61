// Package app wires the process together: config, logging, storage,
// transport selection, the dispatch core, the queue consumer and the
// HTTP boundary. Construction order follows the dependency order; Stop
// tears down in reverse.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"courier/internal/config"
	"courier/internal/consumer"
	"courier/internal/dispatch"
	"courier/internal/eventbus"
	"courier/internal/httpapi"
	"courier/internal/maintenance"
	"courier/internal/registry"
	"courier/internal/storage"
	queuetx "courier/internal/transport/queue"
	smtptx "courier/internal/transport/smtp"
	logx "courier/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	cfg    *config.Config

	logSvc *logx.Service
	log    logx.Logger

	store storage.Store
	bus   eventbus.Bus

	contacts    *registry.Service
	dispatcher  *dispatch.Dispatcher
	history     *dispatch.History
	consumer    *consumer.Service
	maintenance *maintenance.Service
	http        *httpapi.Server

	watchCancel context.CancelFunc
	sinkUnsub   func()
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &App{cfgMgr: mgr, cfg: cfg}, nil
}

// Logger exposes the root logger once Start has run.
func (a *App) Logger() logx.Logger { return a.log }

// HTTPAddr returns the bound API address once Start has run.
func (a *App) HTTPAddr() string {
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfg

	a.logSvc, a.log = logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.cfgMgr.SetLogger(a.log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	a.bus = eventbus.New()
	a.startBusSink()

	a.contacts = registry.New(a.store, a.bus, a.log.With(logx.String("comp", "registry")))
	if err := a.contacts.Seed(ctx); err != nil {
		return err
	}

	smtpTimeout, err := config.ParseDurationOrDefault("smtp.timeout", cfg.SMTP.Timeout, 30*time.Second)
	if err != nil {
		return err
	}
	relay := smtptx.New(smtptx.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		Timeout:  smtpTimeout,
	}, a.log)

	recorder := dispatch.NewRecorder(a.store, a.log)

	var transport dispatch.Transport
	queued := strings.EqualFold(strings.TrimSpace(cfg.Delivery.Mode), "queued")
	if queued {
		transport = queuetx.New(a.store, a.log)
	} else {
		transport = relay
	}

	a.dispatcher = dispatch.NewDispatcher(a.contacts, transport, recorder, cfg.Delivery.Sender, a.bus, a.log)
	a.history = dispatch.NewHistory(a.store)

	if queued {
		ccfg, err := consumerConfig(cfg.Consumer)
		if err != nil {
			return err
		}
		a.consumer = consumer.New(ccfg, a.store, relay, recorder, a.bus, a.log)
		a.consumer.Start(ctx)

		mcfg := maintenance.Config{}
		if cfg.Maintenance != nil {
			mcfg.Schedule = cfg.Maintenance.Schedule
			mcfg.Retention, err = config.ParseDurationField("maintenance.retention", cfg.Maintenance.Retention)
			if err != nil {
				return err
			}
		}
		a.maintenance = maintenance.New(mcfg, a.store, a.bus, a.log)
		if err := a.maintenance.Start(); err != nil {
			return fmt.Errorf("start maintenance: %w", err)
		}
	}

	hcfg, err := httpConfig(cfg.HTTP)
	if err != nil {
		return err
	}
	a.http = httpapi.New(hcfg, a.dispatcher, a.history, a.contacts, a.log)
	if err := a.http.Start(ctx); err != nil {
		return fmt.Errorf("start http: %w", err)
	}

	// Config edits only re-apply the logging section; everything else
	// (transport choice, storage, listeners) requires a restart.
	watchCtx, cancel := context.WithCancel(context.Background())
	a.watchCancel = cancel
	go func() {
		_ = a.cfgMgr.Watch(watchCtx, func(c *config.Config) {
			a.logSvc.Apply(logx.Config{
				Level:   c.Logging.Level,
				Console: c.Logging.Console,
				File: logx.FileConfig{
					Enabled: c.Logging.File.Enabled,
					Path:    c.Logging.File.Path,
				},
			})
		})
	}()

	a.log.Info("courier started",
		logx.String("transport", transport.Name()),
		logx.String("http", a.http.Addr()),
		logx.String("storage", cfg.Storage.Driver),
	)
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.http != nil {
		a.http.Stop(ctx)
	}
	if a.consumer != nil {
		a.consumer.Stop(ctx)
	}
	if a.maintenance != nil {
		a.maintenance.Stop(ctx)
	}
	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.sinkUnsub != nil {
		a.sinkUnsub()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if !a.log.IsZero() {
		a.log.Info("courier stopped")
	}
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
	return nil
}

// startBusSink mirrors delivery lifecycle events into the debug log.
func (a *App) startBusSink() {
	ch, unsub := a.bus.Subscribe(64)
	a.sinkUnsub = unsub
	log := a.log.With(logx.String("comp", "events"))
	go func() {
		for e := range ch {
			log.Debug(e.Type, logx.Any("data", e.Data))
		}
	}()
}

func consumerConfig(c *config.ConsumerConfig) (consumer.Config, error) {
	out := consumer.Config{}
	if c == nil {
		return out, nil
	}
	var err error
	out.Workers = c.Workers
	out.BatchSize = c.BatchSize
	out.RatePerSec = c.RatePerSec
	out.RetryMax = c.RetryMax
	if out.PollInterval, err = config.ParseDurationField("consumer.poll_interval", c.PollInterval); err != nil {
		return out, err
	}
	if out.RetryBase, err = config.ParseDurationField("consumer.retry_base", c.RetryBase); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("consumer.retry_max_delay", c.RetryMaxDelay); err != nil {
		return out, err
	}
	if out.Lease, err = config.ParseDurationField("consumer.lease", c.Lease); err != nil {
		return out, err
	}
	return out, nil
}

func httpConfig(c config.HTTPConfig) (httpapi.Config, error) {
	out := httpapi.Config{Addr: c.Addr, MaxTake: c.MaxTake}
	var err error
	if out.ReadTimeout, err = config.ParseDurationField("http.read_timeout", c.ReadTimeout); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("http.write_timeout", c.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationField("http.idle_timeout", c.IdleTimeout); err != nil {
		return out, err
	}
	return out, nil
}
