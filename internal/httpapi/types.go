package httpapi

import (
	"time"

	"github.com/rmacdonaldsmith/topicrelay/internal/broker"
	"github.com/rmacdonaldsmith/topicrelay/internal/session"
)

// Response types for the admin API

// HealthResponse represents the health check response
type HealthResponse struct {
	Healthy      bool   `json:"healthy"`
	Connections  int    `json:"connections"`
	LiveSessions int    `json:"liveSessions"`
	Uptime       string `json:"uptime,omitempty"`
	Message      string `json:"message"`
}

// SessionsResponse lists known sessions, live or not
type SessionsResponse struct {
	Sessions []session.Info `json:"sessions"`
	Count    int            `json:"count"`
}

// StatsResponse represents broker counters
type StatsResponse struct {
	broker.Stats
	Connections   int       `json:"connections"`
	Sessions      int       `json:"sessions"`
	LiveSessions  int       `json:"liveSessions"`
	Subscriptions int       `json:"subscriptions"`
	StartedAt     time.Time `json:"startedAt"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
