package provider

import (
	"fmt"
	"time"
)

// Commands published by RedisProvider on the command channel
const (
	CommandCreate  = "create"
	CommandLoad    = "load"
	CommandShow    = "show"
	CommandDestroy = "destroy"
)

// CommandMessage is a provider command sent to the remote ad network
type CommandMessage struct {
	Command     string    `json:"command"`
	HandleID    string    `json:"handleId"`
	PlacementID string    `json:"placementId,omitempty"`
	SentAt      time.Time `json:"sentAt"`
}

// EventMessage is an ad lifecycle event sent back by the remote ad network
type EventMessage struct {
	HandleID  string    `json:"handleId"`
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	EmittedAt time.Time `json:"emittedAt"`
}

// LoadedKey is the Redis key the remote network sets while an ad is loaded
func LoadedKey(handleID string) string {
	return fmt.Sprintf("interstitial:handle:%s:loaded", handleID)
}
