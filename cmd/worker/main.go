package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/biorel/backend/internal/bootstrap"
	"github.com/OFFIS-RIT/biorel/backend/internal/queue"
	"github.com/OFFIS-RIT/biorel/backend/internal/util"
	"github.com/OFFIS-RIT/biorel/backend/pkg/ai"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	util.LoadEnv()
	bootstrap.InitLogger("worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.NewStores(ctx)
	if err != nil {
		logger.Fatal("[Worker] Failed to connect stores", "err", err)
	}
	defer stores.Close(context.Background())

	aiClient, err := bootstrap.NewAIClient()
	if err != nil {
		logger.Fatal("[Worker] Failed to create AI client", "err", err)
	}
	ingestor, err := bootstrap.NewIngestor(ctx, aiClient, stores.Vector)
	if err != nil {
		logger.Fatal("[Worker] Failed to create ingestor", "err", err)
	}

	processor := &queue.IngestProcessor{Ingestor: ingestor, PendingDir: bootstrap.PendingDir()}
	if stores.Locker != nil {
		processor.Locker = stores.Locker
	}

	spec := util.GetEnv("INGEST_SCHEDULE")
	if spec == "" && util.GetEnv("RABBITMQ_HOST") == "" {
		logger.Fatal("[Worker] Nothing to do, set INGEST_SCHEDULE or RABBITMQ_HOST")
	}

	g, ctx := errgroup.WithContext(ctx)

	if spec != "" {
		sched, err := queue.NewIngestSchedule(ctx, spec, processor)
		if err != nil {
			logger.Fatal("[Worker] Failed to schedule ingestion", "err", err)
		}
		sched.Start()
		logger.Info("[Worker] Scheduled ingestion", "schedule", spec, "dir", processor.PendingDir)
		g.Go(func() error {
			<-ctx.Done()
			<-sched.Stop().Done()
			return nil
		})
	}

	if util.GetEnv("RABBITMQ_HOST") != "" {
		conn, err := queue.Init()
		if err != nil {
			logger.Fatal("[Worker] Failed to connect to RabbitMQ", "err", err)
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("[Worker] Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
			logger.Fatal("[Worker] Failed to declare queues", "err", err)
		}

		// prefetch=1 so only one job runs at a time
		consumerCh, err := conn.Channel()
		if err != nil {
			logger.Fatal("[Worker] Failed to open consumer channel", "err", err)
		}
		defer consumerCh.Close()
		if err := consumerCh.Qos(1, 0, false); err != nil {
			logger.Fatal("[Worker] Failed to set QoS", "err", err)
		}

		g.Go(func() error {
			return queue.Consume(ctx, consumerCh, ch, queue.IngestQueue, func(ctx context.Context, body []byte) error {
				start := time.Now()
				err := processor.Process(ctx, body)
				logMetrics(aiClient, time.Since(start))
				return err
			})
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("[Worker] Worker stopped", "err", err)
		return
	}
	logger.Info("[Worker] Shutdown signal received, exiting...")
}

func logMetrics(aiClient ai.GraphAIClient, elapsed time.Duration) {
	metrics := aiClient.GetMetrics()
	logger.Info(
		"[Worker] AI Metrics",
		"input_tokens", metrics.InputTokens,
		"output_tokens", metrics.OutputTokens,
		"total_tokens", metrics.TotalTokens,
		"duration", clock(time.Duration(metrics.DurationMs)*time.Millisecond),
	)
	logger.Info("[Worker] Processing time", "duration", clock(elapsed))
	aiClient.ResetMetrics()
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
