// Command expire-points runs the inactivity points-expiration job.
//
// By default it runs both sweeps once and exits 0 on success, 1 on failure.
// With --daemon it stays up and runs daily at --hour (UTC).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"loyalty/cmd/internal/app"
	"loyalty/cmd/internal/expiration"
)

type options struct {
	daemon    bool
	hour      int
	schema    string
	logLevel  string
	logFormat string
	timeout   time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "expire-points: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, cfg app.Config, out io.Writer) (options, error) {
	hour := cfg.JobHour
	if hour < 0 {
		hour = 2
	}

	var o options
	fs := pflag.NewFlagSet("expire-points", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.BoolVar(&o.daemon, "daemon", false, "keep running and expire points once a day")
	fs.IntVar(&o.hour, "hour", hour, "UTC hour of day for --daemon runs (0-23)")
	fs.StringVar(&o.schema, "schema", cfg.DatabaseSchema, "database schema holding the loyalty tables")
	fs.StringVar(&o.logLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&o.logFormat, "log-format", cfg.LogFormat, "json or pretty")
	fs.DurationVar(&o.timeout, "timeout", 10*time.Minute, "upper bound for a single run (0 disables)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if o.hour < 0 || o.hour > 23 {
		return options{}, fmt.Errorf("--hour must be between 0 and 23, got %d", o.hour)
	}
	return o, nil
}

func run(args []string, out io.Writer) error {
	cfg := app.LoadConfig()
	o, err := parseFlags(args, cfg, out)
	if err != nil {
		return err
	}

	log := app.NewLogger(o.logLevel, o.logFormat)

	if cfg.DatabaseURL == "" {
		return errors.New("LOYALTY_DATABASE_URL is required")
	}
	cfg.DatabaseSchema = o.schema

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := app.NewDBPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	store, err := expiration.NewPostgresStore(pool, expiration.WithSchema(o.schema))
	if err != nil {
		return err
	}
	job, err := expiration.New(store, expiration.WithLogger(log))
	if err != nil {
		return err
	}

	if o.daemon {
		log.Info("expire_points.daemon.start", "hour", o.hour, "schema", o.schema)
		err := job.RunDaily(ctx, o.hour)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	runCtx := ctx
	if o.timeout > 0 {
		var cancelRun context.CancelFunc
		runCtx, cancelRun = context.WithTimeout(ctx, o.timeout)
		defer cancelRun()
	}

	report, err := job.Run(runCtx)
	if err != nil {
		return err
	}
	log.Info("expire_points.done",
		"run_id", report.RunID,
		"users_affected", report.Expiration.UsersAffected,
		"total_points_expired", report.Expiration.TotalPointsExpired,
		"warnings_enqueued", report.Warnings.Enqueued,
	)
	return nil
}
