package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"eventdash/internal/config"
	"eventdash/internal/queue"
	"eventdash/internal/reconcile"
	"eventdash/internal/store"
)

// Worker consumes confirmed attendance changes and appends them to the audit
// trail (a capped redis list), so registrations stay reviewable after the
// dashboard session is gone.
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

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "eventdash:changes")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("audit worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != reconcile.MessageType {
			continue
		}

		var evt reconcile.ChangeEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad change payload: %v", err)
			continue
		}

		entry, _ := json.Marshal(evt)
		if err := redisClient.Client.LPush(ctx, cfg.AuditKey, entry).Err(); err != nil {
			log.Printf("audit append failed for record %d: %v", evt.RecordID, err)
			continue
		}
		if err := redisClient.Client.LTrim(ctx, cfg.AuditKey, 0, int64(cfg.AuditMax-1)).Err(); err != nil {
			log.Printf("audit trim failed: %v", err)
		}
		log.Printf("audited %s for participant %d in event %d (attended=%v)",
			evt.Source, evt.ParticipantID, evt.EventID, evt.Attended)
	}

	log.Println("audit worker stopped")
}
