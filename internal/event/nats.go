// internal/event/nats.go
// Package event provides NATS JetStream implementation for event publishing.
// It streams listing lifecycle events to support downstream sync workers and
// audit trails.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/SellerBridge/sellerbridge-listing-go/internal/model"
)

// Publisher defines the event publishing operations required by the
// listing service.
type Publisher interface {
	// PublishListingValidated announces that a listing passed validation.
	PublishListingValidated(ctx context.Context, listing model.ListingRecord) error

	// PublishListingRejected announces that a listing failed validation.
	PublishListingRejected(ctx context.Context, listing model.ListingRecord) error

	// Close closes the publisher connection
	Close() error
}

// noop is a no-op implementation of Publisher for when NATS is not
// configured. It allows the service to function without event streaming.
type noop struct{}

func (n *noop) Close() error { return nil }

func (n *noop) PublishListingValidated(ctx context.Context, listing model.ListingRecord) error {
	return nil
}

func (n *noop) PublishListingRejected(ctx context.Context, listing model.ListingRecord) error {
	return nil
}

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc *nats.Conn
	js nats.JetStreamContext

	// Deduplication: listing ID + status to last publish time
	dedup map[string]time.Time
	mutex sync.RWMutex
}

// NewPublisher creates a publisher for the given NATS URL. An empty URL,
// a failed connection, or a failed stream setup all degrade to a no-op
// publisher; event streaming is optional.
func NewPublisher(url string) Publisher {
	if url == "" {
		return &noop{}
	}

	nc, err := nats.Connect(url)
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return &noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	if err := initStreams(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	return &natsPub{
		nc:    nc,
		js:    js,
		dedup: make(map[string]time.Time),
	}
}

// initStreams creates the SB_LISTINGS stream used for all listing
// lifecycle events.
func initStreams(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      "SB_LISTINGS",
		Subjects:  []string{"listing.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create SB_LISTINGS stream: %w", err)
	}
	return nil
}

// EventEnvelope represents the standard event envelope structure.
// All events published to NATS are wrapped in this envelope.
type EventEnvelope struct {
	Type          string      `json:"type"`
	Version       string      `json:"version"`
	OccurredAt    time.Time   `json:"occurredAt"`
	CorrelationID string      `json:"correlationId"`
	Payload       interface{} `json:"payload"`
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// shouldDedup reports whether an event was already published within the
// 2-minute dedup window. Repeated revalidation of an unchanged listing
// would otherwise flood the stream.
func (p *natsPub) shouldDedup(key string) bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if lastTime, exists := p.dedup[key]; exists {
		return time.Since(lastTime) < 2*time.Minute
	}
	return false
}

// updateDedup records a successful publish, dropping stale entries.
func (p *natsPub) updateDedup(key string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	cutoff := time.Now().Add(-5 * time.Minute)
	for k, t := range p.dedup {
		if t.Before(cutoff) {
			delete(p.dedup, k)
		}
	}
	p.dedup[key] = time.Now()
}

// publish wraps a listing in an envelope and publishes it under subject.
func (p *natsPub) publish(subject string, listing model.ListingRecord) error {
	key := listing.ID + ":" + string(listing.Status)
	if p.shouldDedup(key) {
		return nil
	}

	envelope := EventEnvelope{
		Type:          subject,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       listing,
	}

	b, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if _, err := p.js.Publish(subject, b); err != nil {
		return err
	}

	p.updateDedup(key)
	return nil
}

func (p *natsPub) PublishListingValidated(ctx context.Context, listing model.ListingRecord) error {
	return p.publish("listing.validated", listing)
}

func (p *natsPub) PublishListingRejected(ctx context.Context, listing model.ListingRecord) error {
	return p.publish("listing.rejected", listing)
}
