package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/visit-scheduler/internal/auth"
	"github.com/example/visit-scheduler/internal/config"
	"github.com/example/visit-scheduler/internal/crypto"
	"github.com/example/visit-scheduler/internal/db"
	"github.com/example/visit-scheduler/internal/logincmd"
	"github.com/example/visit-scheduler/internal/medicover"
	"github.com/example/visit-scheduler/internal/migrate"
	"github.com/example/visit-scheduler/internal/profiles"
	"github.com/example/visit-scheduler/internal/scheduler"
	"github.com/example/visit-scheduler/internal/session"
	"github.com/example/visit-scheduler/internal/tasks"
	"github.com/example/visit-scheduler/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the control API + scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			setupLogging(cfg.DevMode)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}

			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			aead, err := crypto.New(cfg.CredEncKey)
			if err != nil {
				return err
			}
			profileStore := profiles.NewStore(d, aead)
			authStore := auth.NewStore(d, cfg.SessionHashKey, cfg.SessionBlockKey)

			driver := logincmd.Driver{Bin: cfg.LoginBin, Timeout: cfg.LoginTimeout}
			sessions := session.NewStore(driver, profileStore)

			api := medicover.New()
			opts := scheduler.DefaultOptions()
			opts.RateCooldown = cfg.RateCooldown
			opts.ReconcileEvery = cfg.ReconcileEvery
			sched := scheduler.New(tasks.NewPostgresStore(d), sessions, api, opts)

			ws := web.NewServer(authStore, sched, sessions, api)
			srv := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           ws.Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				err := sched.Run(gctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
				err := srv.ListenAndServe()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

func setupLogging(devMode bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if devMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
