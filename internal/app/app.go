// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"casewatch/internal/command"
	"casewatch/internal/config"
	"casewatch/internal/court"
	"casewatch/internal/httpapi"
	"casewatch/internal/notify"
	"casewatch/internal/poll"
	"casewatch/internal/runtime/supervisor"
	"casewatch/internal/session"
	"casewatch/internal/storage"
	"casewatch/internal/transport/whatsapp"
	"casewatch/internal/watch"
	"casewatch/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store   storage.Store
	sess    *session.Manager
	poller  *poll.Orchestrator
	httpSrv *httpapi.Server
	sup     *supervisor.Supervisor
}

// New parses the configuration and constructs every component. Nothing is
// connected or scheduled until Start.
func New(cfgPath string) (*App, error) {
	cfgMgr := config.NewManager(cfgPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(toLogxConfig(cfg.Logging))
	cfgMgr.SetLogger(log.With(logx.String("component", "config")))

	store, err := storage.Open(toStorageConfig(cfg.Storage), log.With(logx.String("component", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	fetchTimeout, err := config.ParseDurationOrDefault("court.fetch_timeout", cfg.Court.FetchTimeout, 20*time.Second)
	if err != nil {
		return nil, err
	}
	fetcher := court.NewStatusFetcher(court.Config{
		BaseURL: cfg.Court.BaseURL,
		Timeout: fetchTimeout,
	}, log.With(logx.String("component", "court")))

	detector := watch.NewDetector(fetcher, store, log.With(logx.String("component", "watch")))
	resolver := notify.NewResolver(cfg.WhatsApp.CountryCode, nil)

	dial := whatsapp.Dialer(whatsapp.Config{StorePath: cfg.WhatsApp.StorePath},
		log.With(logx.String("component", "whatsapp")))
	sess := session.NewManager(session.Config{SendRatePerSec: cfg.WhatsApp.SendRatePerSec},
		dial, log.With(logx.String("component", "session")))

	dedupWindow, err := config.ParseDurationOrDefault("sweep.dedup_window", cfg.Sweep.DedupWindow, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	dispatch := notify.NewDispatcher(notify.Config{
		DedupWindow:     dedupWindow,
		DedupMaxEntries: cfg.Sweep.DedupMaxEntries,
	}, sess, log.With(logx.String("component", "notify")))

	proc := command.NewProcessor(cfg.WhatsApp.AdminNumber, store, detector, dispatch,
		resolver, sess, log.With(logx.String("component", "command")))
	sess.SetMessageHandler(proc.HandleInbound)

	pollCfg, err := buildPollConfig(cfg, resolver)
	if err != nil {
		return nil, err
	}
	poller := poll.NewOrchestrator(pollCfg, detector, dispatch, resolver, store,
		fetcher, log.With(logx.String("component", "poll")))

	var httpSrv *httpapi.Server
	if cfg.HTTP.Enabled {
		httpSrv = httpapi.NewServer(httpapi.Config{Addr: cfg.HTTP.Addr}, sess, store,
			log.With(logx.String("component", "http")))
	}

	return &App{
		cfgMgr:  cfgMgr,
		logSvc:  logSvc,
		log:     log,
		store:   store,
		sess:    sess,
		poller:  poller,
		httpSrv: httpSrv,
	}, nil
}

// Start brings the session up, starts the schedulers and the HTTP server, and
// begins watching the config file for logging changes.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, a.log.With(logx.String("component", "supervisor")))

	a.sup.Go("session-events", func(ctx context.Context) {
		a.sess.Run(ctx)
	})

	// Bring-up failure is not fatal: the transport retries on the next Send
	// and the QR endpoint stays reachable for pairing.
	if _, err := a.sess.EnsureStarted(ctx); err != nil {
		a.log.Warn("session bring-up failed, will retry on demand", logx.Err(err))
	}

	if err := a.poller.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	if a.httpSrv != nil {
		a.sup.Go("http", func(ctx context.Context) {
			if err := a.httpSrv.Start(); err != nil {
				a.log.Error("http server", logx.Err(err))
			}
		})
	}

	a.sup.Go("config-watch", func(ctx context.Context) {
		err := a.cfgMgr.Watch(ctx, func(cfg *config.Config) {
			a.logSvc.Apply(toLogxConfig(cfg.Logging))
			a.log.Info("logging configuration reloaded")
		})
		if err != nil {
			a.log.Warn("config watch unavailable", logx.Err(err))
		}
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("casewatch started")
	return nil
}

// Stop shuts everything down in reverse dependency order.
func (a *App) Stop(ctx context.Context) {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.httpSrv != nil {
		if err := a.httpSrv.Stop(ctx); err != nil {
			a.log.Warn("http shutdown", logx.Err(err))
		}
	}
	a.poller.Stop(ctx)

	if err := a.sess.Stop(ctx); err != nil {
		a.log.Warn("session shutdown", logx.Err(err))
	}

	if a.sup != nil {
		a.sup.Cancel()
		if err := a.sup.Wait(ctx); err != nil {
			a.log.Warn("supervisor drain", logx.Err(err))
		}
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.log.Info("casewatch stopped")
	a.logSvc.Close()
}

func buildPollConfig(cfg *config.Config, resolver *notify.Resolver) (poll.Config, error) {
	var out poll.Config

	recipients := resolver.Resolve(cfg.Watch.Recipients)

	if cfg.Watch.Enabled {
		interval, err := config.ParseDurationOrDefault("watch.interval", cfg.Watch.Interval, 5*time.Minute)
		if err != nil {
			return out, err
		}
		mode := cfg.Watch.Mode
		if mode == "" {
			mode = poll.ModeAllFields
		}
		out.Watch = &poll.WatchJob{
			CINO:       cfg.Watch.CINO,
			Interval:   interval,
			Mode:       mode,
			Recipients: recipients,
		}
	}

	if cfg.Sweep.Enabled {
		interval, err := config.ParseDurationOrDefault("sweep.interval", cfg.Sweep.Interval, 30*time.Minute)
		if err != nil {
			return out, err
		}
		out.Sweep = &poll.SweepJob{Interval: interval}
	}

	if cfg.Orders.Enabled {
		interval, err := config.ParseDurationOrDefault("orders.interval", cfg.Orders.Interval, 30*time.Minute)
		if err != nil {
			return out, err
		}
		out.Orders = &poll.OrdersJob{
			Query: court.OrderQuery{
				CaseType: cfg.Orders.CaseType,
				CaseNo:   cfg.Orders.CaseNo,
				CaseYear: cfg.Orders.CaseYear,
			},
			Interval:   interval,
			Recipients: recipients,
		}
	}

	return out, nil
}

func toLogxConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Telegram.Enabled,
			Token:      c.Telegram.Token,
			ChatID:     c.Telegram.ChatID,
			MinLevel:   c.Telegram.MinLevel,
			RatePerSec: c.Telegram.RatePerSec,
		},
	}
}

func toStorageConfig(c config.StorageConfig) storage.Config {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, 5*time.Second)
	if err != nil {
		busy = 5 * time.Second
	}
	return storage.Config{Path: c.Path, BusyTimeout: busy}
}
