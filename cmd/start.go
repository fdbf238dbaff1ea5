package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/stash/internal/env"
	"github.com/luma/stash/internal/httpapi"
	"github.com/luma/stash/storage"
)

var (
	// The address to listen for http requests on, overrides STASH_HTTP_ADDR
	addr string
)

func init() {
	flags := StartCmd.PersistentFlags()

	flags.StringVarP(&addr, "addr", "a", "", "The address to listen to HTTP requests on")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start up the stash inspection service",
	Long: `Start up the stash inspection service

The local area is persisted in SQLite, the session area lives in memory.

Usage
	stash start

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		if addr != "" {
			conf.HTTPAddr = addr
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync()

		feed := storage.NewFeed()

		local, err := storage.OpenSQLiteArea(ctx, conf.DBPath, storage.Local, feed)
		if err != nil {
			return err
		}

		session := storage.NewInmemoryArea(storage.Session, feed)

		host := &storage.Host{
			Native: storage.NewNativeHost(feed, map[storage.AreaName]storage.NativeArea{
				storage.Local:   local,
				storage.Session: session,
			}),
		}

		registry, err := httpapi.NewRegistry(host, conf.MaxStores, log.Named("cache"))
		if err != nil {
			return multierr.Combine(err, session.Close(), local.Close(), feed.Close())
		}

		router := httpapi.NewRouter(registry, conf.DebugHTTP, log.Named("http"))

		s := &http.Server{
			Addr:    conf.HTTPAddr,
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
				signalStop()
			}
		}()

		log.Info("Listening",
			zap.String("addr", conf.HTTPAddr),
			zap.String("dbPath", conf.DBPath))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		err = multierr.Combine(
			s.Shutdown(shutdownCtx),
			registry.Close(),
			session.Close(),
			local.Close(),
			feed.Close(),
		)
		if err != nil {
			log.Error("Failed to shut down cleanly", zap.Error(err))
			return err
		}

		log.Info("Exiting")
		return nil
	},
}
