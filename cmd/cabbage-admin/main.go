// Command cabbage-admin is a read-only view over a cabbage deployment:
// list jobs, queues and tasks, or apply the schema and stored
// procedures to a fresh database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cabbagequeue/cabbage"
	"github.com/cabbagequeue/cabbage/adapter"
	"github.com/cabbagequeue/cabbage/adapter/pgxv5"
	"github.com/cabbagequeue/cabbage/adapter/zapadapter"
	"github.com/cabbagequeue/cabbage/config"
	"github.com/cabbagequeue/cabbage/metrics"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "cabbage.yaml", "path to config file")
	flag.Parse()

	if len(flag.Args()) == 0 {
		log.Fatal("usage: cabbage-admin [-config PATH] migrate|jobs|queues|tasks")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("cabbage-admin: %v", err)
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("cabbage-admin: build logger: %v", err)
	}
	defer zlog.Sync()
	logger := zapadapter.New(zlog)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxv5.NewFromDSN(ctx, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("cabbage-admin: connect: %v", err)
	}
	defer pool.Close()

	managerOpts := []cabbage.ManagerOption{cabbage.WithLogger(logger)}
	if cfg.Metrics.Enabled {
		m := metrics.New()
		managerOpts = append(managerOpts, cabbage.WithMetrics(m))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", adapter.F("error", err))
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	manager := cabbage.NewJobManager(pool, managerOpts...)

	switch flag.Arg(0) {
	case "migrate":
		if err := cabbage.Migrate(ctx, pool); err != nil {
			log.Fatalf("cabbage-admin: migrate: %v", err)
		}
		fmt.Println("migrated")
	case "jobs":
		jobs, err := manager.ListJobs(ctx, cabbage.JobFilter{})
		if err != nil {
			log.Fatalf("cabbage-admin: list jobs: %v", err)
		}
		printJSON(jobs)
	case "queues":
		queues, err := manager.ListQueues(ctx, cabbage.QueueFilter{})
		if err != nil {
			log.Fatalf("cabbage-admin: list queues: %v", err)
		}
		printJSON(queues)
	case "tasks":
		tasks, err := manager.ListTasks(ctx, cabbage.TaskFilter{})
		if err != nil {
			log.Fatalf("cabbage-admin: list tasks: %v", err)
		}
		printJSON(tasks)
	default:
		log.Fatalf("cabbage-admin: unknown command %q", flag.Arg(0))
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("cabbage-admin: encode output: %v", err)
	}
}
