package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"echo-study/internal/api"
)

func serveCmd() *cobra.Command {
	var noNightly bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the nightly suggestion scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !noNightly {
				go func() {
					if err := a.nightly.Start(ctx, cfg.NightlySchedule); err != nil {
						log.Error().Err(err).Msg("nightly scheduler stopped")
					}
				}()
			}

			srv := &http.Server{
				Addr:         ":" + cfg.Port,
				Handler:      api.NewServer(a.svc, cfg.MaxUploadBytes()).Handler(),
				ReadTimeout:  60 * time.Second,
				WriteTimeout: 5 * time.Minute,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Msg("listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&noNightly, "no-nightly", false, "Do not schedule the nightly suggestion job")

	return cmd
}
