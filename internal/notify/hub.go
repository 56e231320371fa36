package notify

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Session is one connected browser tab. Location tracks the page the tab
// currently shows, reported by the client on navigation.
type Session struct {
	UserID string

	mu       sync.Mutex
	location string
	send     chan Notification
}

func NewSession(userID string) *Session {
	return &Session{
		UserID: userID,
		send:   make(chan Notification, 8),
	}
}

// Notifications is the channel the transport drains to the client.
func (s *Session) Notifications() <-chan Notification { return s.send }

func (s *Session) SetLocation(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = url
}

func (s *Session) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

func (s *Session) deliver(n Notification) bool {
	select {
	case s.send <- n:
		return true
	default:
		return false // slow client, drop rather than block the hub
	}
}

// Hub tracks sessions per user and routes notifications.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]bool
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[*Session]bool)}
}

func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[s.UserID] == nil {
		h.sessions[s.UserID] = make(map[*Session]bool)
	}
	h.sessions[s.UserID][s] = true
}

func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.sessions[s.UserID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, s.UserID)
		}
	}
}

// Dispatch routes a payload to the user's sessions: the session already
// showing the target URL gets a focus directive, otherwise a single session
// is told to open the URL. An empty userID broadcasts to every user.
func (h *Hub) Dispatch(userID string, p *Payload) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if userID == "" {
		for uid := range h.sessions {
			h.dispatchToUser(uid, p)
		}
		return
	}
	h.dispatchToUser(userID, p)
}

func (h *Hub) dispatchToUser(userID string, p *Payload) {
	set := h.sessions[userID]
	if len(set) == 0 {
		return
	}

	for s := range set {
		if s.Location() == p.URL {
			if !s.deliver(Notification{Payload: *p, Directive: DirectiveFocus}) {
				log.Warn().Str("user_id", userID).Msg("dropped notification for slow session")
			}
			return
		}
	}

	for s := range set {
		if !s.deliver(Notification{Payload: *p, Directive: DirectiveOpen}) {
			log.Warn().Str("user_id", userID).Msg("dropped notification for slow session")
		}
		return
	}
}
