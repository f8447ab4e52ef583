package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/config"
	"smartwaste.org/internal/dashboard"
	"smartwaste.org/internal/kv"
	"smartwaste.org/internal/notice"
	"smartwaste.org/internal/obs"
	"smartwaste.org/internal/session"
)

var version = "0.3.0"

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"login", "login -email E [-password P]", runLogin},
	{"logout", "logout", runLogout},
	{"whoami", "whoami", runWhoami},
	{"register", "register -name N -email E -password P [-role USER|COLLECTOR]", runRegister},
	{"dashboard", "dashboard [-start D -end D]", runDashboard},
	{"requests", "requests list|create|advance|assign|delayed [flags]", runRequests},
	{"complaints", "complaints list|raise [flags]", runComplaints},
	{"rewards", "rewards catalog|redeem|history|redemptions|fulfill [flags]", runRewards},
	{"collectors", "collectors list|add|zones [flags]", runCollectors},
	{"analytics", "analytics [-start D -end D -zone N -top N]", runAnalytics},
	{"reports", "reports -kind waste|users|collectors [-start D -end D -zone N -type T -out FILE]", runReports},
	{"ml", "ml predict|classify|score|zone [flags]", runML},
}

func main() {
	log.SetFlags(0)
	apiURL := flag.String("api", "", "backend base URL (overrides SMARTWASTE_API_URL)")
	timeout := flag.Duration("timeout", 0, "per-call timeout (overrides SMARTWASTE_API_TIMEOUT)")
	jsonNotices := flag.Bool("json", false, "print notices as JSON lines")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *apiURL != "" {
		cfg.APIURL = *apiURL
	}
	if *timeout > 0 {
		cfg.APITimeout = *timeout
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == flag.Arg(0) {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var out notice.Notifier = notice.NewWriter(os.Stderr)
	if *jsonNotices {
		out = notice.NewJSONWriter(os.Stderr)
	}
	a, err := newApp(ctx, cfg, out)
	if err != nil {
		log.Fatalf("wastectl: %v", err)
	}
	err = cmd.run(ctx, a, flag.Args()[1:])
	a.Close()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "%s: %s\n", cmd.name, api.Message(err, err.Error()))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: wastectl [-api URL] [-timeout D] [-json] <command> [flags]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %s\n", c.usage)
	}
}

// app holds the wiring shared by every command.
type app struct {
	cfg      config.Config
	out      io.Writer
	client   *api.Client
	session  *session.Manager
	dash     *dashboard.Dashboard
	notifier notice.Notifier

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, n notice.Notifier) (*app, error) {
	obs.Init()
	obs.InitBuildInfo("wastectl", version)

	a := &app{cfg: cfg, out: os.Stdout, notifier: notice.Multi{n, notice.LogNotifier{}}}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.client = api.New(cfg.APIURL,
		api.WithTimeout(cfg.APITimeout),
		api.WithRateLimit(cfg.RatePerSec, cfg.RateBurst),
	)
	a.session = session.NewManager(a.client, store)
	a.dash = dashboard.New(a.client, a.session, dashboard.WithNotifier(a.notifier))

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	events := a.session.Subscribe(watchCtx)
	go func() {
		defer close(done)
		notice.WatchSession(watchCtx, events, n)
	}()
	a.closers = append(a.closers, func() {
		cancel()
		<-done
	})

	if cfg.MetricsAddr != "" {
		a.serveMetrics(cfg.MetricsAddr)
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (kv.Store, error) {
	switch a.cfg.SessionStore {
	case config.StoreMemory:
		return kv.NewMemory(), nil
	case config.StorePostgres:
		pg, err := kv.OpenPostgres(a.cfg.PostgresDSN, "wastectl")
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("session store schema: %w", err)
		}
		a.closers = append(a.closers, func() { _ = pg.Close() })
		return pg, nil
	}
	path := a.cfg.SessionPath
	if path == "" {
		var err error
		if path, err = kv.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return kv.NewFile(path), nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Warn("metrics_listen_failed", map[string]any{"addr": addr, "error": err.Error()})
		}
	}()
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// restore loads and verifies the persisted session and fails when there
// is none.
func (a *app) restore(ctx context.Context) (session.Identity, error) {
	ok, err := a.session.Resume(ctx)
	if err != nil {
		return session.Identity{}, err
	}
	id, held := a.session.Identity()
	if !ok || !held {
		return session.Identity{}, errors.New("not logged in; run wastectl login")
	}
	return id, nil
}
