package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeVaultRotated        MessageType = "vault_rotated"
	TypeMasterSecretDeleted MessageType = "master_secret_deleted"
	TypeRecordCreated       MessageType = "record_created"
	TypeRecordDeleted       MessageType = "record_deleted"
	TypeAck                 MessageType = "ack"
	TypePing                MessageType = "ping"
	TypePong                MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// VaultRotatedPayload tells other devices that every envelope they hold is
// now stale and the cached master secret no longer verifies.
type VaultRotatedPayload struct {
	UpdatedAt      time.Time `json:"updated_at"`
	RecordsUpdated int       `json:"records_updated"`
	DeviceID       string    `json:"device_id,omitempty"`
}

type MasterSecretDeletedPayload struct {
	DeletedAt time.Time `json:"deleted_at"`
	DeviceID  string    `json:"device_id,omitempty"`
}

type RecordPayload struct {
	RecordID string `json:"record_id"`
	DeviceID string `json:"device_id,omitempty"`
}

type AckPayload struct {
	MessageID string `json:"message_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
