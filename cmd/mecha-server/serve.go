package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mechafrog/ptm/server/internal/engine"
	"github.com/mechafrog/ptm/server/internal/events"
	"github.com/mechafrog/ptm/server/internal/network"
	"github.com/mechafrog/ptm/server/internal/platform/metrics"
	"github.com/mechafrog/ptm/server/internal/platform/optimization"
)

const shutdownTimeout = 5 * time.Second

var serveCMD = &cobra.Command{
	Use:   "serve",
	Short: "run the engine and the local UI bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, a)
	},
}

func init() {
	rootCmd.AddCommand(serveCMD)
}

func serve(ctx context.Context, a *app) error {
	collector := metrics.Get()

	eventLog, err := a.newEventLog(ctx, collector)
	if err != nil {
		return err
	}

	maxCPS := a.cfg.Economy.MaxClicksPerSecond
	if maxCPS == 0 {
		maxCPS = -1 // 0 in config disables the cap
	}
	gameEngine := engine.NewEngine(a.economy(), a.slot, engine.Options{
		Logger:             a.log,
		Metrics:            collector,
		Events:             eventLog,
		MaxClicksPerSecond: maxCPS,
		TickInterval:       a.cfg.Economy.TickInterval(),
		TickEvents:         a.cfg.Events.LogTickEvents,
	})
	if diags, found := gameEngine.Load(ctx); !found && len(diags) == 0 {
		a.log.Info("no save found, starting fresh", "slot", a.slot.Key())
	}

	hub := network.NewHub(gameEngine, network.HubOptions{
		BroadcastBuffer:  a.cfg.Server.BroadcastBuffer,
		ClientSendBuffer: a.cfg.Server.ClientSendBuffer,
		MaxClients:       a.cfg.Server.MaxClients,
		ActionRate:       a.cfg.Server.ActionRate,
		ActionBurst:      a.cfg.Server.ActionBurst,
		Logger:           a.log,
		Metrics:          collector,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	network.NewAPI(gameEngine, hub, a.log).RegisterRoutes(mux)
	network.NewHistoryHandler(eventLog, a.ledger, a.slot.Key(), a.log).RegisterRoutes(mux)
	mux.HandleFunc("GET /metrics", metrics.Handler(collector))
	mux.HandleFunc("GET /metrics/prometheus", metrics.PrometheusHandler(collector))
	mux.HandleFunc("GET /metrics/advice", optimization.AdviceHandler(a.profile(), collector.Snapshot))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	// The ledger outlives the engine so the final tick's events are written.
	logCtx, stopLog := context.WithCancel(context.WithoutCancel(ctx))
	g.Go(func() error {
		eventLog.Run(logCtx)
		return nil
	})
	g.Go(func() error {
		defer stopLog()
		return gameEngine.Start(ctx)
	})
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	hub.StartEventPoller(ctx, a.cfg.Server.EventPoll())

	g.Go(func() error {
		a.log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newEventLog builds the event log, writing through to the ledger when one
// is attached. Numbering continues from the ledger so seq cursors held by
// clients stay valid across restarts.
func (a *app) newEventLog(ctx context.Context, collector *metrics.Collector) (*events.EventLog, error) {
	var persister events.EventPersister
	var startSeq int64
	if a.ledger != nil && a.cfg.Events.Persist {
		persister = &ledgerPersister{repo: a.ledger}
		last, err := a.ledger.LastSeq(ctx, a.slot.Key())
		if err != nil {
			return nil, err
		}
		startSeq = last
	}
	eventLog := events.NewEventLog(persister, events.Options{
		Retention: a.cfg.Events.Retention,
		Buffer:    a.cfg.Events.Buffer,
		StartSeq:  startSeq,
		OnPersist: func(e events.GameEvent, err error) {
			collector.RecordEventWrite(err)
			if err != nil {
				a.log.Warn("failed to persist event", "type", e.Type, "seq", e.Seq, "err", err)
			}
		},
	})
	return eventLog, nil
}
