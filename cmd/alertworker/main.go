package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/soletrade/livechat/internal/config"
	"github.com/soletrade/livechat/internal/db"
	"github.com/soletrade/livechat/internal/notify"
	"github.com/soletrade/livechat/internal/store/rabbitmq"
	"github.com/soletrade/livechat/internal/support"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	repo := support.NewRepo(gdb)
	svc := support.NewService(repo)

	// Notifier registry (route by ALERT_NOTIFIER)
	reg := notify.NewRegistry()
	reg.Register("log", func(ctx context.Context) (notify.Notifier, error) {
		_ = ctx
		return notify.LogNotifier{}, nil
	})
	reg.Register("webhook", func(ctx context.Context) (notify.Notifier, error) {
		_ = ctx
		return notify.NewWebhookNotifier(cfg.WebhookURL), nil
	})

	notifier, err := reg.Get(context.Background(), cfg.Notifier)
	if err != nil {
		log.Fatalf("notifier: %v", err)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	// strict concurrency control
	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("alertworker started, queue=%s concurrency=%d notifier=%s", cfg.RabbitQueue, concurrency, cfg.Notifier)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m rabbitmq.AlertMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, svc, repo, notifier, m.JobID); err != nil {
					log.Printf("worker=%d job %s failed cost=%s err=%v", workerID, m.JobID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("alertworker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

func handleJob(ctx context.Context, svc *support.Service, repo *support.Repo, notifier notify.Notifier, jobID string) error {
	_ = repo.UpdateJobStatusRunning(ctx, jobID)

	j, err := svc.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	conv, err := svc.History(ctx, j.ConversationID)
	if err != nil {
		_ = repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}

	alert := notify.Alert{
		ConversationID: j.ConversationID,
		MessageID:      j.MessageID,
	}
	for _, m := range conv {
		if m.ID == j.MessageID {
			alert.Content = m.Content
			break
		}
	}
	if c, err := repo.GetConversation(ctx, j.ConversationID); err == nil {
		alert.CustomerName = c.CustomerName
	}

	if err := notifier.Notify(ctx, alert); err != nil {
		_ = repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}

	if err := repo.MarkJobSucceeded(ctx, jobID); err != nil {
		return err
	}
	return nil
}
