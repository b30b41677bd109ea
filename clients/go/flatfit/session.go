package flatfit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// User identifies the authenticated account.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Session supplies the current user's identity and bearer credential. It is
// injected into the Client rather than read from ambient state so resolver
// and channel stay testable in isolation.
type Session interface {
	IsAuthenticated() bool
	CurrentUser() *User
	BearerToken() string
}

// CredentialStore is implemented by sessions that can persist credentials
// obtained from Login.
type CredentialStore interface {
	SetCredentials(token string, user User) error
}

// StaticSession is a fixed-credential Session, useful for short-lived tools
// and tests.
type StaticSession struct {
	Token string
	User  *User
}

func (s *StaticSession) IsAuthenticated() bool { return s.Token != "" }
func (s *StaticSession) CurrentUser() *User    { return s.User }
func (s *StaticSession) BearerToken() string   { return s.Token }

// FileSession persists the bearer token and user identity in a config
// directory, mirroring the browser client's stored session.
type FileSession struct {
	ConfigDir string

	mu    sync.RWMutex
	token string
	user  *User
}

type sessionFile struct {
	Token string `json:"token"`
	User  *User  `json:"user,omitempty"`
}

// NewFileSession creates a session backed by dir (default ~/.flatfit) and
// loads any previously saved credentials.
func NewFileSession(dir string) *FileSession {
	if dir == "" {
		if env := os.Getenv("FLATFIT_CONFIG"); env != "" {
			dir = env
		} else {
			home, _ := os.UserHomeDir()
			dir = filepath.Join(home, ".flatfit")
		}
	}

	s := &FileSession{ConfigDir: dir}
	_ = s.Load()
	return s
}

// Load reads credentials from disk.
func (s *FileSession) Load() error {
	data, err := os.ReadFile(filepath.Join(s.ConfigDir, "session.json"))
	if err != nil {
		return err
	}

	var file sessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}

	s.mu.Lock()
	s.token = file.Token
	s.user = file.User
	s.mu.Unlock()
	return nil
}

// SetCredentials stores credentials and saves them to disk.
func (s *FileSession) SetCredentials(token string, user User) error {
	s.mu.Lock()
	s.token = token
	s.user = &user
	s.mu.Unlock()
	return s.save()
}

// Clear forgets the stored credentials.
func (s *FileSession) Clear() error {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.mu.Unlock()
	return os.Remove(filepath.Join(s.ConfigDir, "session.json"))
}

func (s *FileSession) save() error {
	if err := os.MkdirAll(s.ConfigDir, 0700); err != nil {
		return err
	}

	s.mu.RLock()
	file := sessionFile{Token: s.token, User: s.user}
	s.mu.RUnlock()

	data, _ := json.MarshalIndent(file, "", "  ")
	return os.WriteFile(filepath.Join(s.ConfigDir, "session.json"), data, 0600)
}

// IsAuthenticated reports whether a bearer token is present.
func (s *FileSession) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// CurrentUser returns the stored user identity, or nil when unknown.
func (s *FileSession) CurrentUser() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// BearerToken returns the stored token, or "" when unauthenticated.
func (s *FileSession) BearerToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
