// Package push delivers document lifecycle events over Redis pub/sub, one
// channel per authenticated user. The subscriber decodes inbound messages
// into StatusEvents and drops anything it cannot parse; reconnect policy is
// the caller's, not this package's.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"docucr/pkg/domain"
)

// TypeStatusUpdate is the only message type this subsystem consumes. Other
// types on the same channel are ignored.
const TypeStatusUpdate = "document_status_update"

// Handler receives decoded events. It is invoked from the subscription's
// receive goroutine.
type Handler func(domain.StatusEvent)

// Config holds Redis connection settings for the push channel.
type Config struct {
	Addr          string
	Password      string
	ChannelPrefix string
}

// Client publishes and subscribes to per-user event channels.
type Client struct {
	client *redis.Client
	prefix string
}

// New constructs a push channel client.
func New(cfg Config) (*Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	prefix := strings.TrimSpace(cfg.ChannelPrefix)
	if prefix == "" {
		prefix = "docucr:events"
	}
	return &Client{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		prefix: prefix,
	}, nil
}

// Close releases the underlying Redis connection pool.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) channel(userID string) string {
	return c.prefix + ":" + userID
}

type wireMessage struct {
	Type         string `json:"type"`
	DocumentID   string `json:"document_id"`
	Status       string `json:"status"`
	Progress     *int   `json:"progress,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Seq          int64  `json:"seq,omitempty"`
}

// Publish sends a status update on the user's channel. A zero Seq is filled
// with the current unix-nano time so consumers can order same-document events.
func (c *Client) Publish(ctx context.Context, userID string, ev domain.StatusEvent) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("userId required")
	}
	if strings.TrimSpace(ev.DocumentID) == "" {
		return errors.New("documentId required")
	}
	msg := wireMessage{
		Type:         TypeStatusUpdate,
		DocumentID:   ev.DocumentID,
		Status:       ev.Status,
		ErrorMessage: ev.ErrorMessage,
		Seq:          ev.Seq,
	}
	if ev.Progress >= 0 {
		p := ev.Progress
		msg.Progress = &p
	}
	if msg.Seq == 0 {
		msg.Seq = time.Now().UnixNano()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := c.client.Publish(ctx, c.channel(userID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscription is a live per-user event stream with deterministic teardown.
type Subscription struct {
	pubsub    *redis.PubSub
	closeOnce sync.Once
	done      chan struct{}
}

// Connect opens one subscription for the user and dispatches decoded events
// to onEvent until Close is called. Malformed payloads are logged and
// dropped, never surfaced to the handler. Connection errors are logged and
// end the stream; the caller decides whether reconnecting is still relevant.
func (c *Client) Connect(ctx context.Context, userID string, onEvent Handler) (*Subscription, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("userId required")
	}
	if onEvent == nil {
		return nil, errors.New("event handler required")
	}
	pubsub := c.client.Subscribe(ctx, c.channel(userID))
	// Fail fast if the subscribe itself did not take.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", c.channel(userID), err)
	}
	sub := &Subscription{
		pubsub: pubsub,
		done:   make(chan struct{}),
	}
	go sub.receive(userID, onEvent)
	return sub, nil
}

// Close tears the subscription down and waits for the receive loop to exit.
// It is safe to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pubsub.Close()
	})
	<-s.done
	return err
}

// Done is closed when the receive loop has exited, whether by Close or by a
// transport failure.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) receive(userID string, onEvent Handler) {
	defer close(s.done)
	for msg := range s.pubsub.Channel() {
		ev, ok := decode([]byte(msg.Payload))
		if !ok {
			continue
		}
		onEvent(ev)
	}
	slog.Info("push channel closed", "user_id", userID)
}

func decode(payload []byte) (domain.StatusEvent, bool) {
	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		slog.Warn("drop malformed push payload", "error", err)
		return domain.StatusEvent{}, false
	}
	if msg.Type != TypeStatusUpdate {
		return domain.StatusEvent{}, false
	}
	if strings.TrimSpace(msg.DocumentID) == "" {
		slog.Warn("drop push payload without document_id")
		return domain.StatusEvent{}, false
	}
	ev := domain.StatusEvent{
		DocumentID:   msg.DocumentID,
		Status:       msg.Status,
		Progress:     -1,
		ErrorMessage: msg.ErrorMessage,
		Seq:          msg.Seq,
	}
	if msg.Progress != nil {
		ev.Progress = *msg.Progress
	}
	return ev, true
}
