package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/docpipe/docpipe/internal/api"
	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/dispatch"
	"github.com/docpipe/docpipe/internal/extract"
	"github.com/docpipe/docpipe/internal/history"
	"github.com/docpipe/docpipe/internal/provider"
	"github.com/docpipe/docpipe/internal/queue"
	"github.com/docpipe/docpipe/internal/store"
	"github.com/docpipe/docpipe/internal/ws"
)

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

	objects, err := store.NewFS(cfg.DataDir)
	if err != nil {
		log.Fatalf("[INIT] %v", err)
	}

	hub := ws.NewHub()
	go hub.Run(ctx, q.SubscribeEvents(ctx))

	models := provider.FromEnv().Models()
	server := api.New(dispatch.New(q, hist), q, objects, extract.Plaintext{}, hist, hub, models)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Routes()}
	go func() {
		log.Printf("[INIT] api server listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[HTTP] %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[SHUTDOWN] draining http server")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		log.Printf("[SHUTDOWN] %v", err)
	}
}
