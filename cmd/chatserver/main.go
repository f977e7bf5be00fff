package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soletrade/livechat/internal/config"
	"github.com/soletrade/livechat/internal/db"
	"github.com/soletrade/livechat/internal/httpapi"
	"github.com/soletrade/livechat/internal/httpapi/handlers"
	"github.com/soletrade/livechat/internal/realtime"
	"github.com/soletrade/livechat/internal/store/rabbitmq"
	"github.com/soletrade/livechat/internal/store/redisstore"
	"github.com/soletrade/livechat/internal/support"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	if err := gdb.AutoMigrate(&support.Conversation{}, &support.ChatMessage{}, &support.AlertJob{}); err != nil {
		log.Fatalf("automigrate: %v", err)
	}

	svc := support.NewService(support.NewRepo(gdb))

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	rabbit, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	defer rabbit.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub(rds)
	rds.Subscribe(ctx, hub.DeliverLocal)

	h := handlers.NewHandler(cfg, svc, hub, rabbit, rds)
	router := httpapi.NewRouter(h)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		log.Printf("chatserver listening addr=%s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("chatserver shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
