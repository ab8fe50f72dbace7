package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/history"
	"github.com/docpipe/docpipe/internal/provider"
	"github.com/docpipe/docpipe/internal/queue"
	"github.com/docpipe/docpipe/internal/worker"
)

// historyRetention bounds how long finished task rows stay in the ledger.
const historyRetention = 7 * 24 * time.Hour

func main() {
	cfg := config.FromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := queue.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("[INIT] %v", err)
	}
	defer rdb.Close()
	log.Printf("[INIT] connected to redis at %s", cfg.RedisAddr)

	q := queue.New(rdb, cfg.ResultTTL)
	if err := q.Init(ctx); err != nil {
		log.Fatalf("[INIT] %v", err)
	}

	db, err := sql.Open("sqlite", cfg.HistoryDB)
	if err != nil {
		log.Fatalf("[INIT] open history db: %v", err)
	}
	defer db.Close()
	hist := history.NewSQLStore(db)
	if err := hist.InitSchema(ctx); err != nil {
		log.Fatalf("[INIT] %v", err)
	}

	registry := provider.FromEnv()

	sched := cron.New()
	if _, err := sched.AddFunc("@hourly", func() {
		n, err := hist.Prune(context.Background(), time.Now().Add(-historyRetention))
		if err != nil {
			log.Printf("[PRUNE] %v", err)
			return
		}
		if n > 0 {
			log.Printf("[PRUNE] dropped %d history rows", n)
		}
	}); err != nil {
		log.Fatalf("[INIT] schedule prune: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	var wg sync.WaitGroup
	for i := 1; i <= cfg.WorkerCount; i++ {
		loop := worker.New(q, registry, hist, worker.Options{
			Consumer:  fmt.Sprintf("worker-%d", i),
			PollBlock: cfg.PollBlock,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.Run(ctx)
		}()
	}
	log.Printf("[INIT] started %d worker loops", cfg.WorkerCount)

	wg.Wait()
	log.Println("[SHUTDOWN] all worker loops stopped")
}
