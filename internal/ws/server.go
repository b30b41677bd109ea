package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/4k-champ/cozy-flat-match/internal/auth"
	"github.com/4k-champ/cozy-flat-match/internal/metrics"
	"github.com/4k-champ/cozy-flat-match/internal/models"
	"github.com/4k-champ/cozy-flat-match/internal/store"
)

// RateLimiter caps the per-user message rate. Implemented by the Redis store.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, userID int64, limit int) (bool, error)
	IncrementRateLimit(ctx context.Context, userID int64) error
}

// Server owns the realtime endpoint: it authenticates the upgrade, tracks
// feed subscriptions and turns inbound publishes into stored, broadcast
// messages.
type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	data     store.DataStore
	messages store.MessageStore
	jwt      *auth.JWTManager
	limiter  RateLimiter
	msgLimit int
	log      zerolog.Logger
}

// NewServer creates a realtime server. limiter may be nil to disable the
// message rate cap.
func NewServer(hub *Hub, data store.DataStore, messages store.MessageStore, jwt *auth.JWTManager, limiter RateLimiter, msgLimit int, log zerolog.Logger) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		hub:      hub,
		data:     data,
		messages: messages,
		jwt:      jwt,
		limiter:  limiter,
		msgLimit: msgLimit,
		log:      log,
	}
}

// Hub exposes the subscription registry so HTTP handlers can publish.
func (s *Server) Hub() *Hub { return s.hub }

// HandleWS upgrades GET /ws. The bearer credential rides the Authorization
// header, with an access_token query fallback for clients that cannot set
// headers on the upgrade request.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	claims, err := s.jwt.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}

	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	conn := newConn(sock, userID)
	metrics.WSConnections.Inc()

	go conn.writePump()
	s.readPump(r.Context(), conn)

	s.hub.RemoveConn(conn)
	conn.Close()
	metrics.WSConnections.Dec()
}

func (s *Server) readPump(ctx context.Context, c *Conn) {
	c.sock.SetReadLimit(maxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Int64("user", c.userID).Msg("ws read ended")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Debug().Err(err).Int64("user", c.userID).Msg("malformed ws frame")
			continue
		}

		switch frame.Type {
		case TypeSubscribe:
			s.handleSubscribe(ctx, c, frame.Destination)
		case TypeSend:
			if frame.Destination == DestChatSend {
				s.handleSend(ctx, c, frame.Payload)
			}
		default:
			// ignore
		}
	}
}

func (s *Server) handleSubscribe(ctx context.Context, c *Conn, dest string) {
	switch {
	case dest == DestReadReceipts:
		s.hub.Subscribe(c, ReadReceiptsKey(c.userID))
		metrics.WSSubscriptions.WithLabelValues("read-receipts").Inc()

	case dest == DestPersonal:
		s.hub.Subscribe(c, PersonalKey(c.userID))
		metrics.WSSubscriptions.WithLabelValues("personal").Inc()

	default:
		roomID, ok := ParseRoomTopic(dest)
		if !ok {
			s.log.Debug().Str("dest", dest).Msg("subscribe to unknown destination")
			return
		}
		room, err := s.data.GetRoom(ctx, roomID)
		if err != nil || room == nil {
			s.log.Debug().Err(err).Int64("room", roomID).Msg("subscribe to missing room")
			return
		}
		if room.OwnerID != c.userID && room.InterestedUserID != c.userID {
			s.log.Warn().Int64("room", roomID).Int64("user", c.userID).Msg("subscribe denied, not a participant")
			return
		}
		s.hub.Subscribe(c, dest)
		metrics.WSSubscriptions.WithLabelValues("room").Inc()
	}
}

func (s *Server) handleSend(ctx context.Context, c *Conn, payload json.RawMessage) {
	var req SendPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		s.log.Debug().Err(err).Int64("user", c.userID).Msg("malformed send payload")
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return
	}

	room, err := s.data.GetRoom(ctx, req.ChatRoomID)
	if err != nil || room == nil {
		s.log.Debug().Err(err).Int64("room", req.ChatRoomID).Msg("send to missing room")
		return
	}
	if room.OwnerID != c.userID && room.InterestedUserID != c.userID {
		s.log.Warn().Int64("room", room.ID).Int64("user", c.userID).Msg("send denied, not a participant")
		return
	}

	if s.limiter != nil {
		ok, err := s.limiter.CheckRateLimit(ctx, c.userID, s.msgLimit)
		if err == nil && !ok {
			metrics.RateLimitHits.Inc()
			s.log.Warn().Int64("user", c.userID).Msg("message rate limit hit")
			return
		}
		_ = s.limiter.IncrementRateLimit(ctx, c.userID)
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = models.ContentTypeText
	}

	msg := &models.ChatMessage{
		ChatRoomID:  room.ID,
		SenderID:    c.userID,
		Content:     content,
		ContentType: contentType,
	}
	if err := s.messages.AddMessage(ctx, msg); err != nil {
		s.log.Error().Err(err).Int64("room", room.ID).Msg("store message failed")
		return
	}
	metrics.MessagesSent.Inc()

	// Room feed carries the created message back to both participants.
	s.hub.Publish(RoomTopic(room.ID), RoomTopic(room.ID), msg)

	// Personal feed gives the counterpart cross-room awareness.
	counterpart := room.OwnerID
	if counterpart == c.userID {
		counterpart = room.InterestedUserID
	}
	s.hub.Publish(PersonalKey(counterpart), DestPersonal, Notification{
		Type:       "NEW_MESSAGE",
		ChatRoomID: room.ID,
		SenderID:   c.userID,
	})
}
