package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ralle12345/untiswatch/internal/config"
	appLog "github.com/ralle12345/untiswatch/internal/log"
	"github.com/ralle12345/untiswatch/internal/notify"
	"github.com/ralle12345/untiswatch/internal/poller"
	"github.com/ralle12345/untiswatch/internal/untis"
	"github.com/ralle12345/untiswatch/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	appLog.Info("untiswatch starting", "version", "0.1.0-dev")

	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	if len(conf.Accounts) == 0 {
		appLog.Error("no accounts configured", nil, "config_path", flags.configPath)
		os.Exit(1)
	}

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone, falling back to local", err, "timezone", conf.Timezone)
		loc = time.Local
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"accounts", len(conf.Accounts),
		"telegram", conf.Telegram != nil && conf.Telegram.Token != "",
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	sink := buildSink(conf)

	pollers := make([]*poller.Poller, 0, len(conf.Accounts))
	for i := range conf.Accounts {
		p, err := buildPoller(conf, i, flags.configPath, loc, sink)
		if err != nil {
			appLog.Error("account setup failed", err, "account", conf.Accounts[i].Label())
			os.Exit(1)
		}
		pollers = append(pollers, p)
	}

	if flags.once {
		for _, p := range pollers {
			p.Update(ctx)
		}
		appLog.Info("single update cycle done, exiting")
		return
	}

	for _, p := range pollers {
		if err := p.Start(ctx, conf.RefreshCron); err != nil {
			appLog.Error("failed to start poller", err, "refresh", conf.RefreshCron)
			os.Exit(1)
		}
	}

	srv := &http.Server{
		Addr:    conf.Listen,
		Handler: web.NewServer(conf, loc, pollers).Handler(),
	}
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error("HTTP server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	for _, p := range pollers {
		p.Stop()
	}
	appLog.Info("untiswatch exiting")
}

// buildSink routes notifications through Telegram when a token is
// configured, otherwise to the log.
func buildSink(conf *config.Config) notify.Sink {
	if conf.Telegram != nil && conf.Telegram.Token != "" {
		sink, err := notify.NewTelegramSink(conf.Telegram.Token)
		if err != nil {
			appLog.Error("telegram setup failed, falling back to log notifications", err)
			return notify.LogSink{}
		}
		appLog.Info("notifications routed through telegram")
		return sink
	}
	return notify.LogSink{}
}

func buildPoller(conf *config.Config, idx int, configPath string, loc *time.Location, sink notify.Sink) (*poller.Poller, error) {
	acct := conf.Accounts[idx]
	if err := acct.Validate(); err != nil {
		return nil, err
	}

	elemType, err := untis.ParseElementType(acct.Source.Type)
	if err != nil {
		return nil, err
	}

	client := untis.NewClient(acct.Server, acct.School, acct.Username, acct.Password, loc)
	session := untis.NewSession(client, acct.KeepLoggedIn)
	source := poller.NewUntisSource(session, untis.Element{Type: elemType, ID: acct.Source.ID}, acct.ExtendedTimetable, acct.ExcludeFields)

	// A denied field is written back to the config file so the exclusion
	// survives restarts.
	onExclude := func(field string) {
		conf.Accounts[idx].ExcludeFields = append(conf.Accounts[idx].ExcludeFields, field)
		if err := conf.Save(configPath); err != nil {
			appLog.Error("failed to persist excluded field", err, "field", field)
		}
	}

	return poller.New(acct, conf.HorizonDays, loc, source, sink, onExclude), nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/untiswatch/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one update cycle per account and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
