package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// NotificationKind classifies a push notification from the backend.
type NotificationKind string

const (
	NotifyChange       NotificationKind = "change"
	NotifyConnected    NotificationKind = "connected"
	NotifyDisconnected NotificationKind = "disconnected"
	NotifySyncRequest  NotificationKind = "sync_request"
)

// Notification is delivered by Backend.Listen.
type Notification struct {
	Kind       NotificationKind `json:"kind"`
	Table      string           `json:"table,omitempty"`
	Op         string           `json:"op,omitempty"` // INSERT, UPDATE, DELETE
	RecordID   string           `json:"record_id,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
}

// RealtimeMessageType defines realtime feed message types.
type RealtimeMessageType string

const (
	// Client to Server
	RTSubscribe RealtimeMessageType = "subscribe"
	RTPing      RealtimeMessageType = "ping"

	// Server to Client
	RTSubscribed  RealtimeMessageType = "subscribed"
	RTChange      RealtimeMessageType = "change"
	RTSyncRequest RealtimeMessageType = "sync_request"
	RTPong        RealtimeMessageType = "pong"
	RTError       RealtimeMessageType = "error"
)

// RealtimeMessage is the realtime feed envelope.
type RealtimeMessage struct {
	Type      RealtimeMessageType `json:"type"`
	Tables    []string            `json:"tables,omitempty"`
	Table     string              `json:"table,omitempty"`
	Op        string              `json:"op,omitempty"`
	RecordID  string              `json:"record_id,omitempty"`
	Message   string              `json:"message,omitempty"`
	Timestamp time.Time           `json:"timestamp,omitempty"`
}

// ParseRealtimeMessage parses a raw feed message.
func ParseRealtimeMessage(data []byte) (*RealtimeMessage, error) {
	var msg RealtimeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse realtime message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("parse realtime message: missing type")
	}
	return &msg, nil
}

// Notification converts a server message into a Notification. ok is false
// for messages that carry no notification.
func (m *RealtimeMessage) Notification(now time.Time) (Notification, bool) {
	switch m.Type {
	case RTChange:
		return Notification{
			Kind:       NotifyChange,
			Table:      m.Table,
			Op:         m.Op,
			RecordID:   m.RecordID,
			ReceivedAt: now,
		}, true
	case RTSyncRequest:
		return Notification{
			Kind:       NotifySyncRequest,
			Reason:     m.Message,
			ReceivedAt: now,
		}, true
	}
	return Notification{}, false
}
