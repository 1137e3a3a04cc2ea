package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"evcal/internal/calsync"
	"evcal/internal/config"
	"evcal/internal/display"
	"evcal/internal/ics"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/transport/ws"
	"evcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
	once       bool
	timeout    time.Duration
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("evcal starting", "version", version)

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	loc, _ := conf.Location()

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"week_start", conf.WeekStart,
		"initial_view", conf.InitialView,
		"views", len(conf.Views),
		"is_admin", conf.IsAdmin,
		"refresh", conf.RefreshCron,
		"authority", conf.Authority.URL != "",
		"ics_count", len(conf.ICS),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.once {
		err = runOnce(ctx, conf, loc, flags.timeout)
	} else {
		err = run(ctx, conf, loc)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("evcal failed", err)
		os.Exit(1)
	}
	appLog.Info("evcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/evcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Fetch the initial view once, print it as JSON and exit")
	flag.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "Fetch timeout for -once")

	flag.Parse()
	return cfg
}

// authority is the connected remote event store plus, for push-capable
// transports, the loop delivering its pushes.
type authority struct {
	calsync.Authority
	run   func(ctx context.Context, s *calsync.Session) error
	close func() error
}

func connect(ctx context.Context, conf *config.Config, loc *time.Location) (*authority, error) {
	if conf.Authority.URL != "" {
		client, err := ws.Dial(ctx, conf.Authority.URL, conf.Authority.Token)
		if err != nil {
			return nil, err
		}
		return &authority{
			Authority: client,
			run: func(ctx context.Context, s *calsync.Session) error {
				return client.Run(ctx, s.HandleEnvelope)
			},
			close: client.Close,
		}, nil
	}

	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		sources = append(sources, ics.Source{ID: c.ID, URL: c.URL})
	}
	feed := ics.NewFeed(ics.NewFetcher(conf.CacheDir), sources, loc)
	appLog.Info("using read-only ICS feeds", "sources", len(sources))
	return &authority{
		Authority: feed,
		run: func(ctx context.Context, _ *calsync.Session) error {
			<-ctx.Done()
			return ctx.Err()
		},
		close: func() error { return nil },
	}, nil
}

func newSession(conf *config.Config, loc *time.Location, auth calsync.Authority) *calsync.Session {
	cal := display.New(display.Options{
		Location:    loc,
		WeekStart:   conf.WeekStartDay(),
		InitialView: conf.InitialDisplayView(),
	})
	return calsync.NewSession(cal, auth, calsync.SessionOptions{
		Options: calsync.Options{
			IsAdmin:                conf.IsAdmin,
			Location:               loc,
			MaxOccurrencesPerEvent: conf.MaxOccurrences,
		},
		Views: conf.ViewMap(),
	})
}

func run(ctx context.Context, conf *config.Config, loc *time.Location) error {
	auth, err := connect(ctx, conf, loc)
	if err != nil {
		return err
	}
	defer auth.close()

	session := newSession(conf, loc, auth)
	server := web.NewServer(conf, session, loc)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return session.Run(ctx) })
	g.Go(func() error { return auth.run(ctx, session) })
	g.Go(func() error { return server.Run(ctx) })

	if conf.RefreshCron != "" {
		c := cron.New(cron.WithLocation(loc))
		if _, err := c.AddFunc(conf.RefreshCron, func() {
			appLog.Debug("scheduled refresh")
			if err := session.Refetch(ctx); err != nil {
				appLog.Warn("scheduled refresh skipped", "err", err.Error())
			}
		}); err != nil {
			return fmt.Errorf("refresh schedule %q: %w", conf.RefreshCron, err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
	}

	return g.Wait()
}

// runOnce waits for the initial fetch and prints the displayed items.
func runOnce(ctx context.Context, conf *config.Config, loc *time.Location, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	auth, err := connect(ctx, conf, loc)
	if err != nil {
		return err
	}
	defer auth.close()

	session := newSession(conf, loc, auth)
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go func() { _ = session.Run(loopCtx) }()
	go func() { _ = auth.run(loopCtx, session) }()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		snap, err := session.Snapshot(ctx)
		if err != nil {
			return err
		}
		if snap.Pending {
			continue
		}
		if snap.Err != nil {
			return snap.Err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Title  string        `json:"title"`
			Window string        `json:"window"`
			Items  []model.Event `json:"items"`
		}{snap.Title, snap.Window.String(), snap.Items})
	}
}
