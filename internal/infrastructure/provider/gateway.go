package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/personal/interstitial-ad-coordinator/internal/domain/interstitial"
	"github.com/personal/interstitial-ad-coordinator/pkg/logger"
	"github.com/personal/interstitial-ad-coordinator/pkg/monitoring"
)

// GatewayConfig holds the channels the gateway serves
type GatewayConfig struct {
	CommandChannel string
	EventChannel   string
	CommandTimeout time.Duration
	LoadedKeyTTL   time.Duration
}

// Gateway serves RedisProvider commands with a SimulatedProvider, playing the
// remote ad network end of the bridge
type Gateway struct {
	client   *redis.Client
	provider *SimulatedProvider
	cfg      GatewayConfig
	log      *logrus.Entry

	mu      sync.Mutex
	handles map[string]interstitial.Handle
}

// NewGateway creates a new Gateway
func NewGateway(client *redis.Client, provider *SimulatedProvider, cfg GatewayConfig, log *logger.Logger) *Gateway {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 2 * time.Second
	}
	return &Gateway{
		client:   client,
		provider: provider,
		cfg:      cfg,
		log:      log.Component("ad-network-gateway"),
		handles:  make(map[string]interstitial.Handle),
	}
}

// Run serves commands until ctx is cancelled. ready, if non-nil, is closed
// once the command subscription is active.
func (g *Gateway) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := g.client.Subscribe(ctx, g.cfg.CommandChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", g.cfg.CommandChannel, err)
	}
	g.log.WithField("channel", g.cfg.CommandChannel).Info("Ad network gateway listening")
	if ready != nil {
		close(ready)
	}

	g.serve(ctx, pubsub.Channel())
	return nil
}

// serve handles commands until ctx is done or ch closes, then destroys every
// ad the gateway still owns
func (g *Gateway) serve(ctx context.Context, ch <-chan *redis.Message) {
	defer g.destroyAll()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				g.log.Warn("Command subscription closed")
				return
			}
			g.handleCommand(msg.Payload)
		}
	}
}

func (g *Gateway) handleCommand(payload string) {
	var cmd CommandMessage
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		g.log.WithError(err).Warn("Dropping malformed command")
		return
	}

	entry := g.log.WithFields(logrus.Fields{
		"command":  cmd.Command,
		"handleId": cmd.HandleID,
	})
	entry.Debug("Command received")

	switch cmd.Command {
	case CommandCreate:
		h, err := g.provider.Create(cmd.PlacementID)
		if err != nil {
			g.publishEvent(cmd.HandleID, interstitial.Failed(err.Error()))
			return
		}
		g.mu.Lock()
		g.handles[cmd.HandleID] = h
		g.mu.Unlock()

	case CommandLoad:
		h, ok := g.lookup(cmd.HandleID)
		if !ok {
			g.publishEvent(cmd.HandleID, interstitial.Failed("unknown handle"))
			return
		}
		remoteID := cmd.HandleID
		g.provider.Load(h, interstitial.ListenerFunc(func(event interstitial.Event) {
			g.forward(remoteID, event)
		}))

	case CommandShow:
		h, ok := g.lookup(cmd.HandleID)
		if !ok {
			g.publishEvent(cmd.HandleID, interstitial.Failed("unknown handle"))
			return
		}
		g.clearLoaded(cmd.HandleID)
		g.provider.Show(h)

	case CommandDestroy:
		g.mu.Lock()
		h, ok := g.handles[cmd.HandleID]
		delete(g.handles, cmd.HandleID)
		g.mu.Unlock()
		if ok {
			g.provider.Destroy(h)
		}
		g.clearLoaded(cmd.HandleID)

	default:
		entry.Warn("Unknown command")
	}
}

func (g *Gateway) lookup(remoteID string) (interstitial.Handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.handles[remoteID]
	return h, ok
}

func (g *Gateway) forward(remoteID string, event interstitial.Event) {
	if event.Type == interstitial.EventLoaded {
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.CommandTimeout)
		start := time.Now()
		err := g.client.Set(ctx, LoadedKey(remoteID), "1", g.cfg.LoadedKeyTTL).Err()
		cancel()
		monitoring.RecordRedisCommand("set", time.Since(start), err)
		if err != nil {
			g.log.WithError(err).WithField("handleId", remoteID).Warn("Failed to set loaded marker")
		}
	}
	g.publishEvent(remoteID, event)
}

func (g *Gateway) clearLoaded(remoteID string) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.CommandTimeout)
	defer cancel()

	start := time.Now()
	err := g.client.Del(ctx, LoadedKey(remoteID)).Err()
	monitoring.RecordRedisCommand("del", time.Since(start), err)
}

func (g *Gateway) publishEvent(remoteID string, event interstitial.Event) {
	payload, err := json.Marshal(EventMessage{
		HandleID:  remoteID,
		Type:      string(event.Type),
		Message:   event.Message,
		EmittedAt: time.Now().UTC(),
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.CommandTimeout)
	defer cancel()

	start := time.Now()
	err = g.client.Publish(ctx, g.cfg.EventChannel, payload).Err()
	monitoring.RecordRedisCommand("publish", time.Since(start), err)
	if err != nil {
		g.log.WithError(err).WithField("handleId", remoteID).Warn("Failed to publish event")
	}
}

func (g *Gateway) destroyAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, h := range g.handles {
		g.provider.Destroy(h)
		delete(g.handles, id)
	}
}
