package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qrattend/internal/config"
	"qrattend/internal/ledger"
	"qrattend/internal/notify"
	"qrattend/internal/queue"
	"qrattend/internal/registry"
	"qrattend/internal/store"
)

// Worker consumes notification jobs and sends confirmation mail. Delivery is
// best effort: every failure is logged and the job dropped, never retried
// into the attendance flow.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.Open(cfg.StoreBackend, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "qrattend:notifications")
	}

	repo := ledger.NewRepository(db)
	directory := registry.New(db, registry.Scope(cfg.RegistryScope), nil)
	mailer := notify.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom)

	if !mailer.Enabled() {
		log.Println("SMTP not configured, notifications will be logged only")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != "attendance" {
			continue
		}

		id := string(msg.Body)
		rec, err := repo.Get(ctx, id)
		if err != nil || rec == nil {
			log.Printf("fetch record %s failed: %v", id, err)
			continue
		}

		profile, err := directory.Get(ctx, rec.Roll, rec.Subject)
		if err != nil || profile == nil || profile.Email == "" {
			log.Printf("no contact address for %s/%s, skipping", rec.Roll, rec.Subject)
			continue
		}

		body := notify.ConfirmationBody(profile.Name, rec.Subject, rec.MarkedAt.Format(time.RFC1123))
		if !mailer.Enabled() {
			log.Printf("notification (dry run) to %s: attendance recorded for %s", profile.Email, rec.Subject)
			continue
		}
		if err := mailer.Send(profile.Email, "Attendance confirmation: "+rec.Subject, body); err != nil {
			log.Printf("mail to %s failed: %v", profile.Email, err)
			continue
		}
		log.Printf("confirmation sent to %s for %s", profile.Email, rec.Subject)
	}

	log.Println("worker stopped")
}
