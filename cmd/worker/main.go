package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"gorm.io/gorm"

	"github.com/mouseland/aistudio/internal/config"
	"github.com/mouseland/aistudio/internal/db"
	"github.com/mouseland/aistudio/internal/email"
	"github.com/mouseland/aistudio/internal/request"
	"github.com/mouseland/aistudio/internal/store/rabbitmq"
)

// The notification worker turns submission events into operator emails,
// so pending requests are noticed without anyone watching the dashboard.

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
	repo := request.NewRepo(gdb)

	smtp := email.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// resubscribe with capped backoff instead of dying on a broken
	// broker connection
	backoff := time.Second
	for {
		err := runSession(ctx, cfg, repo, smtp)
		if ctx.Err() != nil {
			log.Printf("worker shutting down")
			return
		}
		log.Printf("consume session ended, reconnecting in %s: %v", backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			log.Printf("worker shutting down")
			return
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func runSession(ctx context.Context, cfg config.Config, repo *request.Repo, smtp email.SMTPConfig) error {
	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return fmt.Errorf("rabbit dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbit channel: %w", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	log.Printf("worker started, queue=%s concurrency=%d admins=%d", cfg.RabbitQueue, concurrency, len(cfg.AdminEmails))

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var ev rabbitmq.SubmittedEvent
				if err := json.Unmarshal(d.Body, &ev); err != nil || ev.RequestID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := notifyOperators(ctx, repo, smtp, cfg.AdminEmails, ev.RequestID); err != nil {
					log.Printf("worker=%d request %s notify failed cost=%s err=%v", workerID, ev.RequestID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed request=%s err=%v", workerID, ev.RequestID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()

		case d, ok := <-msgs:
			if !ok {
				close(jobs)
				wg.Wait()
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

func notifyOperators(ctx context.Context, repo *request.Repo, smtp email.SMTPConfig, admins []string, requestID string) error {
	req, err := repo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// stale event; nothing to notify about
			log.Printf("request %s not found, dropping event", requestID)
			return nil
		}
		return err
	}
	if req.Status != request.StatusPending {
		// already handled before the event was consumed
		return nil
	}

	duration := ""
	if req.VideoDuration != nil {
		duration = fmt.Sprintf(" (%ds)", *req.VideoDuration)
	}
	subject := fmt.Sprintf("New %s request from %s", req.Kind, req.RequesterName)
	body := fmt.Sprintf(
		"A new generation request is waiting.\n\n"+
			"Requester: %s (%s)\n"+
			"Kind: %s%s\n"+
			"Prompt:\n%s\n\n"+
			"Submitted: %s\n",
		req.RequesterName, req.RequesterContact,
		req.Kind, duration,
		req.Prompt,
		req.CreatedAt.Format(time.RFC3339),
	)

	for _, to := range admins {
		if err := email.SendText(smtp, to, subject, body); err != nil {
			if errors.Is(err, email.ErrNotConfigured) {
				log.Printf("smtp not configured, skipping notification for %s", requestID)
				return nil
			}
			return fmt.Errorf("send to %s: %w", to, err)
		}
	}
	return nil
}
