package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"ledger/internal/backend"
	"ledger/internal/cli"
	applog "ledger/internal/log"
	"ledger/internal/rates"
	"ledger/internal/session"
)

var commands struct {
	EnvFile string `name:"env-file" help:"Optional .env file loaded before reading the environment." default:".env"`

	Summary    summaryCmd    `cmd:"" help:"Show income and expense totals, optionally filtered."`
	List       listCmd       `cmd:"" help:"List ledger entries, optionally filtered."`
	Add        addCmd        `cmd:"" help:"Record an income or expense entry."`
	Remove     removeCmd     `cmd:"" help:"Delete an entry by ID."`
	Rates      ratesCmd      `cmd:"" help:"List the current exchange rates."`
	Categories categoriesCmd `cmd:"" help:"List the categories in use."`
	Watch      watchCmd      `cmd:"" help:"Refresh rates periodically and reprint the summary until interrupted."`
}

// app is bound into every command's Run.
type app struct {
	ctx     context.Context
	session *session.Session
	logger  *applog.Logger
	out     *report
}

func main() {
	kctx := kong.Parse(&commands,
		kong.Name("ledger"),
		kong.Description("Personal income and expense ledger with base-currency conversion."))

	cli.LoadEnvFile(commands.EnvFile)
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.GracefulShutdown(logger, 10*time.Second, nil)
	defer cancel()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.LogError(ctx, "Invalid backend configuration", err, applog.OpStartup, nil)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.LogError(ctx, "Failed to create backend", err, applog.OpStartup,
			applog.LogFields{applog.FieldBackend: bcfg.Type.String()})
		os.Exit(1)
	}
	cleanup := func() {
		if err := res.Cleanup(); err != nil {
			logger.LogError(context.Background(), "Backend cleanup failed", err, applog.OpShutdown, nil)
		}
	}
	defer cleanup()

	cbu := rates.NewCBUProvider(cfg.RatesURL,
		rates.WithHTTPClient(&http.Client{Timeout: cfg.RatesTimeout}),
		rates.WithRetries(uint64(cfg.RatesMaxRetries), 500*time.Millisecond))
	provider := rates.NewCachedProvider(cbu, cbu.URL(), cfg.RatesCacheTTL)

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithCurrencies(cfg.EntryCurrency, cfg.BaseCurrency),
		session.WithRateSource(cbu.URL()),
		session.WithRateTimeout(cfg.RatesTimeout * time.Duration(cfg.RatesMaxRetries+2)),
	}
	if res.Publisher != nil {
		opts = append(opts, session.WithPublisher(res.Publisher))
	}
	sess := session.New(res.Persister, provider, opts...)

	out := newReport(os.Stdout, os.Stderr)
	if err := sess.Start(ctx); err != nil {
		logger.WarnContext(ctx, "Session started with warnings", applog.FieldError, err.Error())
	}
	out.Notices(sess.Notices())

	err = kctx.Run(&app{ctx: ctx, session: sess, logger: logger, out: out})
	flushPending(ctx, sess, logger)
	out.Notices(sess.Notices())
	if err != nil {
		logger.LogError(ctx, "Command failed", err, kctx.Command(), nil)
		cleanup()
		os.Exit(1)
	}
}

// flushPending retries a failed save once more before the process exits, so
// changes kept only in memory are not silently dropped.
func flushPending(ctx context.Context, sess *session.Session, logger *applog.Logger) {
	if !sess.Unsaved() {
		return
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := sess.Flush(fctx); err != nil {
		logger.LogError(fctx, "Unsaved ledger changes could not be written", err, applog.OpSave, nil)
		return
	}
	logger.InfoContext(fctx, "Wrote pending ledger changes")
}
