// Package notify fans push events out to connected browser sessions over
// websockets. A session already showing the notification's target URL is
// told to focus; otherwise one session is told to open a new tab.
package notify

import (
	"encoding/json"
	"fmt"
)

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Payload is the push event body: {title, body, url, actions}.
type Payload struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	URL     string   `json:"url"`
	Actions []Action `json:"actions,omitempty"`
}

// ParsePayload decodes a push payload, filling in display defaults.
// Malformed payloads are rejected and dropped by the caller.
func ParsePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse push payload: %w", err)
	}
	if p.Title == "" {
		p.Title = "Digistore"
	}
	if p.URL == "" {
		p.URL = "/"
	}
	return &p, nil
}

// Directive tells the receiving session what to do with the notification.
type Directive string

const (
	DirectiveFocus Directive = "focus"
	DirectiveOpen  Directive = "open"
)

type Notification struct {
	Payload
	Directive Directive `json:"directive"`
}
