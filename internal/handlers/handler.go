package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/4k-champ/cozy-flat-match/internal/store"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Publisher pushes feed events to realtime subscribers. The ws.Hub
// implements it; tests use a recording fake.
type Publisher interface {
	Publish(key, destination string, payload interface{})
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	data     store.DataStore
	messages store.MessageStore
	feed     Publisher
	log      zerolog.Logger
}

// NewHandler creates a new Handler with the given stores and feed publisher.
func NewHandler(data store.DataStore, messages store.MessageStore, feed Publisher, log zerolog.Logger) *Handler {
	return &Handler{data: data, messages: messages, feed: feed, log: log}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeName trims and limits a name to 100 characters, removing control
// characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// isValidEmail validates email addresses using the RFC 5322 pattern.
func isValidEmail(email string) bool {
	if len(email) == 0 || len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}
