package broker

import (
	"time"

	"github.com/rmacdonaldsmith/topicrelay/internal/session"
)

// Stats are cumulative counters since Run started.
type Stats struct {
	DatagramsReceived   uint64 `json:"datagramsReceived"`
	DatagramsDropped    uint64 `json:"datagramsDropped"`
	MessagesPublished   uint64 `json:"messagesPublished"`
	Deliveries          uint64 `json:"deliveries"`
	DeliveryFailures    uint64 `json:"deliveryFailures"`
	ConnectionsAccepted uint64 `json:"connectionsAccepted"`
	AdmissionsAccepted  uint64 `json:"admissionsAccepted"`
	AdmissionsResumed   uint64 `json:"admissionsResumed"`
	AdmissionsDenied    uint64 `json:"admissionsDenied"`
	Subscribes          uint64 `json:"subscribes"`
	Unsubscribes        uint64 `json:"unsubscribes"`
}

// Snapshot is a point-in-time view of the broker.
type Snapshot struct {
	Sessions     []session.Info `json:"sessions"`
	Stats        Stats          `json:"stats"`
	Connections  int            `json:"connections"`
	LiveSessions int            `json:"liveSessions"`
	StartedAt    time.Time      `json:"startedAt"`
	TakenAt      time.Time      `json:"takenAt"`
}

func (b *Broker) snapshot() *Snapshot {
	return &Snapshot{
		Sessions:     b.registry.Snapshot(),
		Stats:        b.stats,
		Connections:  b.conns.Len(),
		LiveSessions: b.registry.LiveCount(),
		StartedAt:    b.startedAt,
		TakenAt:      time.Now(),
	}
}
