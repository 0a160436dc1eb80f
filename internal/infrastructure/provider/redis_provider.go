package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/personal/interstitial-ad-coordinator/internal/domain/interstitial"
	"github.com/personal/interstitial-ad-coordinator/pkg/logger"
	"github.com/personal/interstitial-ad-coordinator/pkg/monitoring"
)

// RedisConfig holds the channels and timeouts of the Redis bridge
type RedisConfig struct {
	CommandChannel string
	EventChannel   string
	CommandTimeout time.Duration
}

type redisHandle struct {
	id          string
	placementID string
}

func (h *redisHandle) ID() string          { return h.id }
func (h *redisHandle) PlacementID() string { return h.placementID }

// RedisProvider drives a remote ad network over Redis pub/sub. Commands are
// published as JSON on the command channel; events come back on the event
// channel and are routed to the listener registered for their handle.
type RedisProvider struct {
	client *redis.Client
	cfg    RedisConfig
	log    *logrus.Entry

	mu        sync.RWMutex
	listeners map[string]interstitial.Listener

	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisProvider creates a new RedisProvider. Call Start before use.
func NewRedisProvider(client *redis.Client, cfg RedisConfig, log *logger.Logger) *RedisProvider {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 2 * time.Second
	}
	return &RedisProvider{
		client:    client,
		cfg:       cfg,
		log:       log.Component("redis-provider"),
		listeners: make(map[string]interstitial.Listener),
		done:      make(chan struct{}),
	}
}

// Start subscribes to the event channel and begins routing events
func (p *RedisProvider) Start(ctx context.Context) error {
	pubsub := p.client.Subscribe(ctx, p.cfg.EventChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", p.cfg.EventChannel, err)
	}
	p.pubsub = pubsub

	go p.consume(pubsub.Channel())

	p.log.WithField("channel", p.cfg.EventChannel).Info("Subscribed to ad network events")
	return nil
}

// Close unsubscribes and waits for the event loop to exit
func (p *RedisProvider) Close() error {
	if p.pubsub == nil {
		return nil
	}
	err := p.pubsub.Close()
	<-p.done
	return err
}

func (p *RedisProvider) consume(ch <-chan *redis.Message) {
	defer close(p.done)

	for msg := range ch {
		var event EventMessage
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			p.log.WithError(err).Warn("Dropping malformed ad network event")
			continue
		}

		eventType, err := interstitial.ParseEventType(event.Type)
		if err != nil {
			p.log.WithField("type", event.Type).Warn("Dropping ad network event of unknown type")
			continue
		}

		p.mu.RLock()
		listener, ok := p.listeners[event.HandleID]
		p.mu.RUnlock()
		if !ok {
			p.log.WithFields(logrus.Fields{
				"handleId": event.HandleID,
				"type":     event.Type,
			}).Debug("No listener for ad network event")
			continue
		}

		listener.OnAdEvent(interstitial.Event{Type: eventType, Message: event.Message})
	}
}

// Create allocates a handle and announces it to the remote network
func (p *RedisProvider) Create(placementID string) (interstitial.Handle, error) {
	if strings.TrimSpace(placementID) == "" {
		return nil, errBlankPlacement
	}

	h := &redisHandle{id: uuid.New().String(), placementID: placementID}
	if err := p.publish(CommandMessage{Command: CommandCreate, HandleID: h.id, PlacementID: placementID}); err != nil {
		return nil, err
	}
	return h, nil
}

// Load registers listener for the handle and asks the network to load it.
// A publish failure is reported to listener as a load error.
func (p *RedisProvider) Load(handle interstitial.Handle, listener interstitial.Listener) {
	p.mu.Lock()
	p.listeners[handle.ID()] = listener
	p.mu.Unlock()

	if err := p.publish(CommandMessage{Command: CommandLoad, HandleID: handle.ID(), PlacementID: handle.PlacementID()}); err != nil {
		listener.OnAdEvent(interstitial.Failed(err.Error()))
	}
}

// Show asks the network to present the ad
func (p *RedisProvider) Show(handle interstitial.Handle) {
	if err := p.publish(CommandMessage{Command: CommandShow, HandleID: handle.ID()}); err != nil {
		p.mu.RLock()
		listener, ok := p.listeners[handle.ID()]
		p.mu.RUnlock()
		if ok {
			listener.OnAdEvent(interstitial.Failed(err.Error()))
		}
	}
}

// IsLoaded reads the loaded marker the network keeps for the handle
func (p *RedisProvider) IsLoaded(handle interstitial.Handle) bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CommandTimeout)
	defer cancel()

	start := time.Now()
	val, err := p.client.Get(ctx, LoadedKey(handle.ID())).Result()
	if errors.Is(err, redis.Nil) {
		monitoring.RecordRedisCommand("get", time.Since(start), nil)
		return false
	}
	monitoring.RecordRedisCommand("get", time.Since(start), err)
	if err != nil {
		p.log.WithError(err).WithField("handleId", handle.ID()).Warn("Failed to read loaded marker")
		return false
	}
	return val == "1"
}

// Destroy drops the listener and tells the network to release the ad
func (p *RedisProvider) Destroy(handle interstitial.Handle) {
	p.mu.Lock()
	delete(p.listeners, handle.ID())
	p.mu.Unlock()

	if err := p.publish(CommandMessage{Command: CommandDestroy, HandleID: handle.ID()}); err != nil {
		p.log.WithError(err).WithField("handleId", handle.ID()).Warn("Failed to publish destroy")
	}
}

func (p *RedisProvider) publish(cmd CommandMessage) error {
	cmd.SentAt = time.Now().UTC()
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode %s command: %w", cmd.Command, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CommandTimeout)
	defer cancel()

	start := time.Now()
	err = p.client.Publish(ctx, p.cfg.CommandChannel, payload).Err()
	monitoring.RecordRedisCommand("publish", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to publish %s command: %w", cmd.Command, err)
	}
	return nil
}
