package chathub

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"claimhub/backend/internal/metrics"
	"claimhub/backend/internal/models"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const persistTimeout = 5 * time.Second

// identifierPattern accepts user identifiers such as UUIDs, object ids and
// e-mail style handles.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.@-]{0,127}$`)

// MessageStore persists chat messages before they are broadcast.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.ChatMessage) error
}

// State is the lifecycle state of a session.
type State int32

const (
	StateConnected State = iota
	StateIdentified
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Router interprets inbound client events and turns them into room
// operations. Events are fire-and-forget: invalid ones are dropped and logged,
// and the sender never receives an error back.
type Router struct {
	registry *Registry
	rooms    *RoomMux
	fanout   Broadcaster
	store    MessageStore
	now      func() time.Time
	log      zerolog.Logger
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithBroadcaster routes broadcasts through b instead of the local RoomMux,
// e.g. a PubSubBridge for multi-node deployments.
func WithBroadcaster(b Broadcaster) RouterOption {
	return func(r *Router) { r.fanout = b }
}

// WithMessageStore persists every valid chat message before broadcasting it.
func WithMessageStore(s MessageStore) RouterOption {
	return func(r *Router) { r.store = s }
}

// WithClock overrides the time source used to stamp messages.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a router over the registry and its rooms.
func NewRouter(reg *Registry, logger zerolog.Logger, opts ...RouterOption) *Router {
	r := &Router{
		registry: reg,
		rooms:    reg.Rooms(),
		fanout:   reg.Rooms(),
		now:      time.Now,
		log:      logger.With().Str("component", "router").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect registers c and returns its session in the Connected state.
func (r *Router) Connect(c Conn) *Session {
	s := &Session{id: r.registry.Register(c), router: r}
	s.state.Store(int32(StateConnected))
	return s
}

// Session is the router's view of one connection. A session is driven by a
// single reader, but its accessors are safe for concurrent use.
type Session struct {
	id     ConnID
	router *Router
	state  atomic.Int32

	mu     sync.Mutex
	userID string
}

// ID returns the connection identifier.
func (s *Session) ID() ConnID { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// UserID returns the most recently joined user identity, if any.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// HandleFrame decodes a raw frame and handles it. Undecodable frames are dropped.
func (s *Session) HandleFrame(raw []byte) {
	var ev models.Event
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Name == "" {
		s.drop("unknown", "malformed frame")
		return
	}
	s.Handle(ev)
}

// Handle applies one inbound event.
func (s *Session) Handle(ev models.Event) {
	if s.State() == StateDisconnected {
		return
	}
	switch ev.Name {
	case models.EventJoin:
		userID, ok := decodeIdentifier(ev.Data, "userId")
		if !ok || !identifierPattern.MatchString(userID) {
			s.drop(ev.Name, "missing or malformed user id")
			return
		}
		s.Identify(userID)
	case models.EventJoinClaim:
		claimID, ok := decodeIdentifier(ev.Data, "claimId")
		if !ok {
			s.drop(ev.Name, "missing claim id")
			return
		}
		s.router.rooms.Join(s.id, ConversationRoom(claimID))
	case models.EventLeaveClaim:
		claimID, ok := decodeIdentifier(ev.Data, "claimId")
		if !ok {
			s.drop(ev.Name, "missing claim id")
			return
		}
		s.router.rooms.Leave(s.id, ConversationRoom(claimID))
	case models.EventSendChat:
		s.sendChat(ev.Data)
	default:
		s.drop(ev.Name, "unknown event")
	}
}

// Identify joins the user room of userID. Identities accumulate: joining a
// second identity keeps the first membership.
func (s *Session) Identify(userID string) bool {
	if !s.router.rooms.Join(s.id, UserRoom(userID)) {
		return false
	}
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
	s.state.CompareAndSwap(int32(StateConnected), int32(StateIdentified))
	return true
}

func (s *Session) sendChat(data json.RawMessage) {
	var msg models.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.drop(models.EventSendChat, "malformed message")
		return
	}
	msg.ClaimID = strings.TrimSpace(msg.ClaimID)
	if msg.ClaimID == "" {
		s.drop(models.EventSendChat, "missing claim id")
		return
	}

	r := s.router
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now().UTC()
	}
	if msg.SenderID == "" {
		msg.SenderID = s.UserID()
	}

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := r.store.SaveMessage(ctx, &msg); err != nil {
			r.log.Error().Err(err).Str("claim_id", msg.ClaimID).Str("message_id", msg.ID).Msg("failed to persist chat message")
		}
		cancel()
	}

	ev, err := models.NewEvent(models.EventReceiveChat, msg)
	if err != nil {
		s.drop(models.EventSendChat, "unencodable message")
		return
	}
	r.fanout.Broadcast(ConversationRoom(msg.ClaimID), ev)
}

// Disconnect deregisters the connection and moves the session to its
// terminal state. Safe to call more than once.
func (s *Session) Disconnect() {
	if State(s.state.Swap(int32(StateDisconnected))) == StateDisconnected {
		return
	}
	s.router.registry.Deregister(s.id)
}

func (s *Session) drop(event, reason string) {
	metrics.DroppedEvents.WithLabelValues(eventLabel(event), reason).Inc()
	s.router.log.Warn().
		Str("conn_id", string(s.id)).
		Str("event", event).
		Str("reason", reason).
		Msg("event dropped")
}

// eventLabel bounds metric cardinality to the known inbound event names.
func eventLabel(event string) string {
	switch event {
	case models.EventJoin, models.EventJoinClaim, models.EventLeaveClaim, models.EventSendChat:
		return event
	default:
		return "unknown"
	}
}

// decodeIdentifier accepts either a bare JSON string or an object carrying
// the identifier under field. The result is trimmed; ok is false when empty.
func decodeIdentifier(data json.RawMessage, field string) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", false
		}
		id, _ = obj[field].(string)
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}
