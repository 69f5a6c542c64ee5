package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mouseland/aistudio/internal/blob"
	"github.com/mouseland/aistudio/internal/config"
	"github.com/mouseland/aistudio/internal/db"
	"github.com/mouseland/aistudio/internal/httpapi"
	"github.com/mouseland/aistudio/internal/httpapi/handlers"
	"github.com/mouseland/aistudio/internal/identity"
	"github.com/mouseland/aistudio/internal/quota"
	"github.com/mouseland/aistudio/internal/request"
	"github.com/mouseland/aistudio/internal/sse"
	"github.com/mouseland/aistudio/internal/store/rabbitmq"
	"github.com/mouseland/aistudio/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	var ledger quota.Ledger
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		log.Printf("redis unavailable, guest quota falls back to process memory: %v", err)
		ledger = quota.NewMemoryLedger(cfg.GuestAllotment)
	} else {
		ledger = quota.NewRedisLedger(rds.Client(), cfg.GuestAllotment)
	}
	cancel()

	// submission events are best-effort; the API stays up without rabbit
	var publisher request.EventPublisher
	if pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue); err != nil {
		log.Printf("rabbitmq unavailable, operator notifications disabled: %v", err)
	} else {
		publisher = pub
		defer pub.Close()
	}

	hub := sse.NewHub()
	repo := request.NewRepo(gdb)
	svc := request.NewService(repo, ledger, hub, publisher)
	resolver := identity.NewResolver(cfg.AdminEmails)
	blobStore := blob.NewStore(cfg.StorageDir, cfg.StorageBaseURL)

	h := handlers.NewHandler(gdb, cfg, rds, svc, resolver, blobStore, hub)
	router := httpapi.NewRouter(h)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("api listening on :%s env=%s", cfg.Port, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Printf("api stopped")
}
