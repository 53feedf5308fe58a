// Copyright 2025 ToolGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"toolgate/platform/shared/logger"
)

// Sink persists audit events. Exactly one sink is active per gateway
// process, selected by the AUDIT_SINK URI scheme.
type Sink interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

// NewSink selects a sink implementation from a URI.
//
//	console://            stdout, one JSON line per event
//	http://host/path      POST each event as JSON
//	https://host/path     same over TLS
//	redis://host:port     LPUSH onto the audit:events list
//	postgres://...        INSERT into audit_events, pruned by retention
//	bus://topic           buffered in-process queue with async delivery
func NewSink(uri string, retention time.Duration, log *logger.Logger) (Sink, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse audit sink uri: %w", err)
	}

	switch parsed.Scheme {
	case "console", "":
		return NewConsoleSink(os.Stdout), nil
	case "http", "https":
		return NewHTTPSink(uri), nil
	case "redis":
		opt, err := redis.ParseURL(uri)
		if err != nil {
			return nil, fmt.Errorf("parse audit redis uri: %w", err)
		}
		return NewRedisSink(redis.NewClient(opt), retention), nil
	case "postgres", "postgresql":
		db, err := sql.Open("postgres", uri)
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		return NewPostgresSink(db, retention, log), nil
	case "bus":
		topic := parsed.Host
		if topic == "" {
			topic = "audit"
		}
		return NewBusSink(topic, nil, 1024, 2, log), nil
	default:
		return nil, fmt.Errorf("unsupported audit sink scheme %q", parsed.Scheme)
	}
}

// ConsoleSink writes one JSON line per event.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleSink creates a sink writing to out.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

func (s *ConsoleSink) Emit(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = fmt.Fprintf(s.out, "%s\n", data)
	return err
}

func (s *ConsoleSink) Close() error { return nil }

// HTTPSink POSTs each event to a collector endpoint.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink creates a sink posting to url.
func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPSink) Emit(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post audit event: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("audit collector returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPSink) Close() error { return nil }

const redisAuditKey = "audit:events"

// RedisSink pushes events onto a Redis list. The list expires retention
// after the last event, which bounds growth without a background pruner.
type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisSink creates a sink around an existing client.
func NewRedisSink(client *redis.Client, retention time.Duration) *RedisSink {
	return &RedisSink{client: client, retention: retention}
}

func (s *RedisSink) Emit(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := s.client.LPush(ctx, redisAuditKey, data).Err(); err != nil {
		return fmt.Errorf("push audit event: %w", err)
	}
	if s.retention > 0 {
		if err := s.client.Expire(ctx, redisAuditKey, s.retention).Err(); err != nil {
			return fmt.Errorf("set audit retention: %w", err)
		}
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

// PostgresSink inserts events into the audit_events table and prunes rows
// older than the retention window on a timer.
type PostgresSink struct {
	db        *sql.DB
	retention time.Duration
	log       *logger.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewPostgresSink creates a sink around an open database handle and starts
// the retention pruner.
func NewPostgresSink(db *sql.DB, retention time.Duration, log *logger.Logger) *PostgresSink {
	s := &PostgresSink{db: db, retention: retention, log: log, stop: make(chan struct{})}
	if retention > 0 {
		go s.pruneLoop()
	}
	return s
}

func (s *PostgresSink) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	query := `
		INSERT INTO audit_events (id, created_at, tool, actor_subject, tenant_id, decision, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	return execWithRetry(ctx, s.db, query,
		event.ID,
		event.Timestamp,
		event.Tool,
		event.Actor.Subject,
		event.Actor.Tenant,
		string(event.Decision),
		payload,
	)
}

func (s *PostgresSink) pruneLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.retention).UTC().Format(time.RFC3339Nano)
			result, err := s.db.Exec(`DELETE FROM audit_events WHERE created_at < $1`, cutoff)
			if err != nil {
				s.log.Error("", "", "audit retention prune failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			if n, err := result.RowsAffected(); err == nil && n > 0 {
				s.log.Info("", "", "pruned expired audit events", map[string]interface{}{"removed": n})
			}
		}
	}
}

func (s *PostgresSink) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.db.Close()
}

// execWithRetry retries transient database errors with linear backoff.
func execWithRetry(ctx context.Context, db *sql.DB, query string, args ...interface{}) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if _, err = db.ExecContext(ctx, query, args...); err == nil {
			return nil
		}
		if !isTransientDBError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(100*(attempt+1)) * time.Millisecond):
		}
	}
	return err
}

func isTransientDBError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "timeout", "too many connections", "deadlock"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Publisher delivers audit payloads to a message broker topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// BusSink decouples the request path from audit delivery with a buffered
// queue and worker goroutines. A full queue drops the event rather than
// blocking a request; workers retry transient publish failures with
// backoff before dropping.
type BusSink struct {
	topic     string
	publisher Publisher
	queue     chan Event
	wg        sync.WaitGroup
	log       *logger.Logger
	closeOnce sync.Once

	mu        sync.Mutex
	delivered uint64
	dropped   uint64
}

// NewBusSink creates a bus sink. A nil publisher falls back to emitting
// payloads through the structured log, which keeps the trail observable
// when no broker is wired up.
func NewBusSink(topic string, publisher Publisher, queueSize, workers int, log *logger.Logger) *BusSink {
	if publisher == nil {
		publisher = &logPublisher{log: log}
	}
	s := &BusSink{
		topic:     topic,
		publisher: publisher,
		queue:     make(chan Event, queueSize),
		log:       log,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *BusSink) Emit(_ context.Context, event Event) error {
	select {
	case s.queue <- event:
		return nil
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return fmt.Errorf("audit bus queue full, event %s dropped", event.ID)
	}
}

func (s *BusSink) worker() {
	defer s.wg.Done()
	for event := range s.queue {
		data, err := json.Marshal(event)
		if err != nil {
			s.log.Error("", "", "failed to marshal audit event", map[string]interface{}{"error": err.Error()})
			continue
		}

		published := false
		for attempt := 0; attempt < 3; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = s.publisher.Publish(ctx, s.topic, data)
			cancel()
			if err == nil {
				published = true
				break
			}
			time.Sleep(time.Duration(100*(attempt+1)) * time.Millisecond)
		}

		s.mu.Lock()
		if published {
			s.delivered++
		} else {
			s.dropped++
		}
		s.mu.Unlock()
		if !published {
			s.log.Error("", "", "audit event dropped after publish retries", map[string]interface{}{
				"event_id": event.ID,
				"error":    err.Error(),
			})
		}
	}
}

// Stats reports delivery counters for the admin surface.
func (s *BusSink) Stats() (delivered, dropped uint64, pending int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered, s.dropped, len(s.queue)
}

// Close drains the queue and stops the workers.
func (s *BusSink) Close() error {
	s.closeOnce.Do(func() { close(s.queue) })
	s.wg.Wait()
	return nil
}

// logPublisher is the fallback broker: payloads land in the structured log.
type logPublisher struct {
	log *logger.Logger
}

func (p *logPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.log.Info("", "", "audit event", map[string]interface{}{
		"topic": topic,
		"event": json.RawMessage(payload),
	})
	return nil
}
