// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// Pusher protocol events.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventSubscriptionError     = "pusher:subscription_error"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"

	// NotificationEvent is broadcast by Laravel for database notifications.
	NotificationEvent = `Illuminate\Notifications\Events\BroadcastNotificationCreated`

	// PrivatePrefix marks channels that require authorization.
	PrivatePrefix = "private-"

	// ProtocolVersion is the Pusher protocol spoken by PusherTransport.
	ProtocolVersion = 7

	clientName    = "ezy-go"
	clientVersion = "1.0.0"
)

// Message is one Pusher frame. Data is the payload with any string
// wrapping removed.
type Message struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// decodeMessage parses a frame. Pusher servers send data as a JSON-encoded
// string; both that and a bare object are accepted.
func decodeMessage(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("invalid frame: %w", err)
	}
	msg.Data = unwrapData(msg.Data)
	return msg, nil
}

func unwrapData(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return raw
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return raw
	}
	return json.RawMessage(s)
}

func jsonUnmarshal(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(data, v)
}

func encodeMessage(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: event, Data: payload})
}

// connectionEstablished is the payload of pusher:connection_established.
type connectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

// protocolError is the payload of pusher:error and
// pusher:subscription_error.
type protocolError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}

func (e protocolError) text() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	case e.Type != "":
		return e.Type
	}
	return "unknown error"
}

// subscribePayload is the data of pusher:subscribe.
type subscribePayload struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

// SocketURL builds the websocket URL for an app key.
func SocketURL(host string, port int, forceTLS bool, appKey string) string {
	scheme := "ws"
	if forceTLS {
		scheme = "wss"
	}
	q := url.Values{}
	q.Set("protocol", strconv.Itoa(ProtocolVersion))
	q.Set("client", clientName)
	q.Set("version", clientVersion)
	q.Set("flash", "false")
	u := url.URL{
		Scheme:   scheme,
		Host:     host + ":" + strconv.Itoa(port),
		Path:     "/app/" + appKey,
		RawQuery: q.Encode(),
	}
	return u.String()
}
