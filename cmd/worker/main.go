package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gowa-blast/config"
	"gowa-blast/database"
	"gowa-blast/internal/blast"
	"gowa-blast/internal/model"
	"gowa-blast/internal/queue"
	"gowa-blast/internal/session"
	"gowa-blast/internal/store"
	"gowa-blast/internal/transport"
)

// Worker process: owns the transport sessions and drains the job outbox.
// It shares Postgres with the API process and talks back through the
// store's pub/sub topics.
func main() {
	// 1. Load configuration
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../../.env")
	}

	cfg := config.Load()
	if cfg.AppDBURL == "" {
		log.Fatal("APP_DATABASE_URL is not set")
	}

	// 2. Initialize databases
	database.InitAppDB(cfg.AppDBURL)
	database.InitWhatsmeow(cfg.AppDBURL)
	defer database.AppDB.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.NewPostgres(database.AppDB, cfg.AppDBURL)
	if err != nil {
		log.Fatal("Failed to init shared store:", err)
	}

	backend, err := queue.NewPostgres(database.AppDB)
	if err != nil {
		log.Fatal("Failed to init job queue:", err)
	}

	// 3. Session lifecycle manager
	factory, err := transport.NewWhatsmeowFactory(database.Container, database.AppDB)
	if err != nil {
		log.Fatal("Failed to init transport factory:", err)
	}
	sessions := session.NewManager(factory, st, time.Duration(cfg.ReconnectDelaySec)*time.Second)
	sessions.Start(ctx, cfg.SessionIDs)
	if err := sessions.RunCommandListener(ctx); err != nil {
		log.Fatal("Failed to subscribe command listener:", err)
	}

	// 4. Campaign cache refresher
	campaigns, err := model.NewCampaignRepo(database.AppDB, st)
	if err != nil {
		log.Fatal("Failed to init campaign repo:", err)
	}
	cacheCron, err := campaigns.StartCacheRefresher(ctx)
	if err != nil {
		log.Fatal("Failed to start campaign cache refresher:", err)
	}

	// 5. Task runner: delivery + deferred sheet processing, with the
	// progress tracker wired into the outcome hooks
	tracker := blast.NewTracker(st)
	deliverer := blast.NewDeliverer(sessions)
	blastService := blast.NewService(st, backend, campaigns)

	runner := queue.NewRunner(backend, cfg.WorkerConcurrency, cfg.WorkerRatePerSec, queue.Hooks{
		OnCompleted: tracker.OnDelivered,
		OnFailed:    tracker.OnFailed,
	})
	runner.Register(queue.TaskSendMessage, deliverer.HandleSendMessage)
	runner.Register(queue.TaskProcessFile, blastService.ProcessFileTask)
	runner.Start(ctx)

	log.Printf("Worker started: sessions=%v concurrency=%d rate=%d/s",
		cfg.SessionIDs, cfg.WorkerConcurrency, cfg.WorkerRatePerSec)

	// 6. Wait for termination signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down worker...")
	cancel()
	runner.Wait()
	cacheCron.Stop()
	sessions.Shutdown()
	log.Println("Worker shutdown complete.")
}
