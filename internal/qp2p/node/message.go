// Package node implements the node manager (§4.5): the TCP listener,
// background heartbeat and cleanup sweeps, and the send/receive path that
// composes routing, session crypto, the fault executor and wire framing.
//
// Grounded on the teacher's internal/network/p2p/host.go for the
// connect/listen/handler-registry shape and original_source's
// quantum_enhanced_p2p.py for the message types and the
// heartbeat/cleanup/metrics loops it wraps around a libp2p-free transport.
package node

import (
	"encoding/json"
	"strings"
	"time"
)

// MessageType enumerates the control and data message kinds a node
// exchanges with its peers (original_source's MessageType enum, trimmed to
// this spec's scope).
type MessageType string

const (
	MessageTypeInferenceRequest MessageType = "inference_request"
	MessageTypeHeartbeat        MessageType = "heartbeat"
	MessageTypePeerDiscovery    MessageType = "peer_discovery"
	MessageTypeDataSync         MessageType = "data_sync"
)

// DefaultTTL is the default message time-to-live (§4.5 step 1, §6).
const DefaultTTL = 300 * time.Second

// Message is the plaintext payload carried inside an encrypted envelope
// (§6 "Cleartext payload"): message_id, type, sender_id, data, timestamp
// and ttl as UNIX-epoch floating point seconds, matching the wire schema
// exactly so a non-Go peer implementation stays interoperable.
type Message struct {
	ID        string          `json:"message_id"`
	Type      MessageType     `json:"type"`
	Sender    string          `json:"sender_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp float64         `json:"timestamp"`
	TTL       float64         `json:"ttl"`
}

// Expired reports whether now is past the message's ttl since its
// timestamp (§6: "A receiver drops a message where now - timestamp > ttl").
func (m *Message) Expired(now time.Time) bool {
	age := now.Sub(time.Unix(0, int64(m.Timestamp*float64(time.Second))))
	return age.Seconds() > m.TTL
}

func marshalMessage(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

func unmarshalMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// senderFromKeyID recovers the sender node id from a session key
// identifier of the form "{sender}:{receiver}" or "{sender}:{receiver}#N"
// (see qp2p/crypto's key id convention), so an accept-side connection with
// no prior peer binding can still route a decrypted message to the right
// watermark and routing-table entry.
func senderFromKeyID(keyID string) string {
	idx := strings.IndexByte(keyID, ':')
	if idx < 0 {
		return ""
	}
	return keyID[:idx]
}
