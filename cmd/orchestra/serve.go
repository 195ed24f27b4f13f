package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/orchestra/internal/agentfile"
	"github.com/ShayCichocki/orchestra/internal/api"
	"github.com/ShayCichocki/orchestra/internal/eventbus"
	"github.com/ShayCichocki/orchestra/internal/state"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the plan and agent API, the /events websocket stream and
Prometheus metrics.

When agents.file is set and agents.watch is true, edits to the file reload
the agent pool. When events.redis_url is set, engine events are also
appended to the events.stream Redis stream.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cfg, runtimeOptions{registry: reg})
	if err != nil {
		return err
	}
	defer rt.Close()
	log := rt.log.WithComponent("serve")

	if rt.store != nil {
		reportInterrupted(ctx, rt)
	}

	opts := []api.Option{api.WithLogger(rt.log), api.WithRegistry(reg)}
	if rt.store != nil {
		opts = append(opts, api.WithAgentWriter(rt.store))
	}
	handler := api.NewHandler(rt.engine, opts...)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var pub *eventbus.Publisher
	if cfg.Events.RedisURL != "" {
		pub, err = eventbus.NewPublisherFromURL(ctx, cfg.Events.RedisURL, cfg.Events.Stream, rt.log)
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	if pub != nil {
		events, unsubscribe := rt.engine.Events().Subscribe()
		g.Go(func() error {
			defer unsubscribe()
			return pub.Run(gctx, events)
		})
		log.Info("publishing events", "stream", pub.Stream())
	}

	g.Go(func() error {
		log.Info("listening", "addr", cfg.Server.Addr, "agents", len(rt.engine.Agents()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		err := server.Shutdown(shutdownCtx)
		handler.Wait()
		return err
	})

	if cfg.Agents.File != "" && cfg.Agents.Watch {
		watcher := agentfile.NewWatcher(cfg.Agents.File, poolSyncer{rt: rt},
			agentfile.WithLogger(rt.log),
			agentfile.OnReload(func(n int) {
				log.Info("agent pool reloaded", "agents", n)
			}),
		)
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	return g.Wait()
}

// reportInterrupted logs plans a previous process left in progress.
func reportInterrupted(ctx context.Context, rt *runtime) {
	interrupted, err := state.NewRecoveryManager(rt.store).CheckForInterrupted(ctx, 0)
	if err != nil {
		rt.log.WithError(err).Warn("check interrupted plans")
		return
	}
	for _, ip := range interrupted {
		rt.log.WithPlanID(ip.PlanID).Warn("plan was interrupted",
			"passes", ip.Passes, "completed", ip.Completed, "pending", ip.Pending,
			"idle", time.Since(ip.LastActivity).Round(time.Second))
	}
}
