// Package app wires the loyalty service runtime: config, logging, stores,
// HTTP routes, the live scan feed and the in-process expiration schedule.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"loyalty/cmd/internal/api"
	"loyalty/cmd/internal/expiration"
	"loyalty/cmd/internal/live"
	"loyalty/cmd/internal/metrics"
	"loyalty/cmd/internal/qr"
	"loyalty/cmd/internal/redemption"
	"loyalty/cmd/security/token"
)

// App owns the HTTP server, the database pool and the services behind them.
type App struct {
	cfg Config
	log Logger

	pool      *pgxpool.Pool
	dbEnabled bool

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	handler http.Handler
	job     *expiration.Job
}

// New constructs a fully wired App from config and logger.
// An empty DatabaseURL selects in-memory stores.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	secret, err := LoadSecret(cfg, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, registry: reg, metrics: m}

	st, err := a.openStores(context.Background())
	if err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(secret)
	if err != nil {
		a.close()
		return nil, err
	}

	idIssuer, err := qr.NewIdentityIssuer(codec,
		qr.WithIssuer(cfg.Issuer),
		qr.WithImageSize(cfg.QRImageSize),
		qr.WithIssuerMetrics(m),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	rdIssuer, err := qr.NewRedemptionIssuer(codec,
		qr.WithIssuer(cfg.Issuer),
		qr.WithImageSize(cfg.QRImageSize),
		qr.WithIssuerMetrics(m),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	verifier, err := qr.NewVerifier(codec,
		qr.WithExpectedIssuer(cfg.Issuer),
		qr.WithVerifierLogger(log),
		qr.WithVerifierMetrics(m),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	identity, err := qr.NewIdentityService(idIssuer, st.credentials, log)
	if err != nil {
		a.close()
		return nil, err
	}

	hub := live.NewHub(log, m)
	gateway := live.NewGateway(log, hub, live.GatewayConfig{
		AllowedOrigins: cfg.WSAllowedOrigins,
		OriginRequired: cfg.WSOriginRequired,
	})

	redemptions, err := redemption.NewService(st.vouchers, rdIssuer, verifier,
		redemption.WithTTL(cfg.RedemptionTTL),
		redemption.WithLogger(log),
		redemption.WithMetrics(m),
		redemption.WithPublisher(hub),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	apiHandler, err := api.NewHandler(log, api.LoadConfigFromEnv(), api.Deps{
		Identity:    identity,
		Verifier:    verifier,
		Redemptions: redemptions,
		Live:        gateway,
		Fingerprint: codec.Fingerprint,
	}, api.WithAuditor(st.auditor))
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.JobHour >= 0 {
		a.job, err = expiration.New(st.points,
			expiration.WithLogger(log),
			expiration.WithMetrics(m),
		)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	a.handler = a.routes(apiHandler)
	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server (and the daily expiration schedule when enabled)
// and blocks until context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "env", a.cfg.Environment, "db_enabled", a.dbEnabled)

	jobCtx, stopJob := context.WithCancel(ctx)
	jobDone := make(chan struct{})
	if a.job != nil {
		go func() {
			defer close(jobDone)
			if err := a.job.RunDaily(jobCtx, a.cfg.JobHour); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("expiration.schedule.fail", "err", err)
			}
		}()
	} else {
		close(jobDone)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	stopJob()
	<-jobDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if runErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			runErr = err
		}
	}

	a.close()
	a.log.Info("server.stopped")
	return runErr
}

func (a *App) close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
