// Command counterd runs a counting session without a window and serves the
// counts and the annotated video over HTTP.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linecount/internal/api"
	"linecount/internal/config"
	"linecount/processing/reconcile"
	"linecount/processing/session"
	"linecount/processing/store"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to the JSON config file")
	addr := flag.String("addr", "", "listen address, overrides http.addr from the config")
	flag.Parse()

	cfg := config.LoadConfigFile(*configPath)
	cfg.SetupLogging()
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	if err := run(cfg); err != nil {
		logrus.WithError(err).Fatal("counterd failed")
	}
}

func run(cfg *config.Config) error {
	var (
		sink session.EventSink
		log  api.CrossingLog
	)

	if cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			return errors.Wrap(err, "event log")
		}
		defer db.Close()

		rec := store.NewRecorder(db, 0)
		defer rec.Close()

		sink, log = rec, db
	}

	// One display state for the daemon's lifetime, as in the desktop app.
	display := reconcile.NewReconciler()

	sess, err := session.Open(cfg, display, sink)
	if err != nil {
		return err
	}
	defer sess.Stop()

	srv := api.NewServer(sess.Consumer, sess.Producer, log, cfg.Counting.EntryClasses)
	httpSrv := srv.NewHTTPServer(cfg.HTTP.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := sess.Producer.Run(ctx)
		if errors.Is(err, session.ErrStreamExhausted) {
			// Counts stay available until the daemon is stopped.
			logrus.WithField("session", sess.ID).Info("stream ended, serving final counts")
			return nil
		}
		if errors.Is(err, session.ErrStopped) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		tick(ctx, cfg.TickPeriod(), sess, srv)
		return nil
	})

	g.Go(func() error {
		logrus.WithField("addr", httpSrv.Addr).Info("serving api")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// tick is the consuming stage: it polls the latest snapshot at the display
// cadence and forwards new frames to the MJPEG stream.
func tick(ctx context.Context, period time.Duration, sess *session.Session, srv *api.Server) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	lastState := sess.Consumer.State()

	for {
		select {
		case <-ticker.C:
			u := sess.Consumer.Tick()
			if u.Frame != nil {
				if err := srv.PublishFrame(u.Frame); err != nil {
					logrus.WithError(err).Warn("encode frame")
				}
			}
			if u.Changes.Any() && u.State != lastState {
				logrus.WithFields(logrus.Fields{
					"in":     u.State.In,
					"out":    u.State.Out,
					"inside": u.State.Inside,
					"class":  u.State.ClassCount,
				}).Debug("counts")
				lastState = u.State
			}

		case <-ctx.Done():
			return
		}
	}
}
