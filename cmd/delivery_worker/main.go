package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/letterflow/letterflow/config"
	"github.com/letterflow/letterflow/pkg/mailer"
)

// maxSendAttempts caps total delivery tries per recipient, counting the
// synchronous attempt made during publish.
const maxSendAttempts = 3

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if !cfg.MailSendEnabled {
		log.Println("MAIL_SEND_ENABLED=false; delivery worker disabled (no real emails will be sent)")
		return
	}
	if cfg.RabbitMQURL == "" || cfg.RabbitMQRetryQueue == "" {
		log.Fatal("RabbitMQ not configured")
	}
	if cfg.MailgunDomain == "" || cfg.MailgunAPIKey == "" || cfg.MailgunSender == "" {
		log.Fatal("Mailgun not configured")
	}

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("amqp dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("amqp channel: %v", err)
	}
	defer func() { _ = ch.Close() }()

	// Prefetch for fair dispatch
	if err := ch.Qos(16, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	if _, err := ch.QueueDeclare(cfg.RabbitMQRetryQueue, true, false, false, false, nil); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitMQRetryQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	mg := mailer.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunSender, cfg.DeliverySendTimeout)
	ctx := context.Background()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for msg := range msgs {
			var job mailer.RetryJob
			if err := json.Unmarshal(msg.Body, &job); err != nil {
				log.Printf("bad message: %v", err)
				_ = msg.Nack(false, false)
				continue
			}
			if job.Recipient == "" {
				log.Printf("dropping job without recipient (report=%s)", job.ReportID)
				_ = msg.Ack(false)
				continue
			}
			if job.Attempts >= maxSendAttempts {
				log.Printf("giving up on %s after %d attempts (report=%s, last error: %s)",
					job.Recipient, job.Attempts, job.ReportID, job.LastError)
				_ = msg.Ack(false)
				continue
			}

			err := mg.Send(ctx, job.Recipient, job.IssueTitle, job.TextContent, job.HTMLContent)
			if err == nil {
				log.Printf("delivered to %s on attempt %d (report=%s)", job.Recipient, job.Attempts+1, job.ReportID)
				_ = msg.Ack(false)
				continue
			}

			// Requeue with the attempt counted so the cap holds across restarts.
			job.Attempts++
			job.LastError = err.Error()
			log.Printf("send to %s failed (attempt %d): %v", job.Recipient, job.Attempts, err)
			if perr := publishJob(ctx, ch, cfg.RabbitMQRetryQueue, job); perr != nil {
				log.Printf("requeue failed, returning message to broker: %v", perr)
				_ = msg.Nack(false, true)
				continue
			}
			_ = msg.Ack(false)
		}
		close(done)
	}()

	log.Printf("delivery worker listening on queue=%s", cfg.RabbitMQRetryQueue)
	<-stop
	log.Printf("shutting down...")
	_ = ch.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

func publishJob(ctx context.Context, ch *amqp.Channel, queue string, job mailer.RetryJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}
