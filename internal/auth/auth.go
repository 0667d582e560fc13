package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/example/vehicle-storefront/internal/models"
	"github.com/example/vehicle-storefront/internal/storage"
)

const (
	userKey  = "currentUser"
	tokenKey = "token"
)

var (
	ErrMissingCredentials = errors.New("auth: please fill in all fields")
	ErrInvalidResponse    = errors.New("auth: invalid response from server")
)

// APIError carries the backend's message for a rejected login or signup.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("auth: unexpected status %d", e.Code)
}

// Session keeps the signed-in user and token in durable storage and tells
// subscribers whenever the user changes.
type Session struct {
	baseURL string
	http    *http.Client
	storage storage.Storage
	logger  *slog.Logger

	mu    sync.RWMutex
	user  *models.User
	token string

	subsMu sync.Mutex
	subs   map[int]func(*models.User)
	nextID int
}

func NewSession(ctx context.Context, baseURL string, timeout time.Duration, st storage.Storage, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		storage: st,
		logger:  logger,
		subs:    make(map[int]func(*models.User)),
	}
	s.restore(ctx)
	return s
}

func (s *Session) restore(ctx context.Context) {
	b, err := s.storage.Get(ctx, userKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("restore user failed", "error", err)
		}
		return
	}
	var u models.User
	if err := json.Unmarshal(b, &u); err != nil {
		s.logger.Warn("discarding corrupt stored user", "error", err)
		_ = s.storage.Delete(ctx, userKey)
		return
	}
	s.user = &u
	if tb, err := s.storage.Get(ctx, tokenKey); err == nil {
		s.token = string(tb)
	}
}

func (s *Session) Login(ctx context.Context, email, password string) (models.User, error) {
	if email == "" || password == "" {
		return models.User{}, ErrMissingCredentials
	}
	return s.authenticate(ctx, "/api/auth/login", map[string]string{"email": email, "password": password})
}

func (s *Session) Signup(ctx context.Context, email, password, name, role string) (models.User, error) {
	if email == "" || password == "" {
		return models.User{}, ErrMissingCredentials
	}
	if name == "" {
		name = email
	}
	if role == "" {
		role = models.RoleCustomer
	}
	return s.authenticate(ctx, "/api/auth/signup", map[string]string{"email": email, "password": password, "name": name, "role": role})
}

func (s *Session) authenticate(ctx context.Context, path string, body map[string]string) (models.User, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return models.User{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return models.User{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Code: resp.StatusCode}
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &msg) == nil {
			apiErr.Message = msg.Message
		}
		return models.User{}, apiErr
	}
	var ar models.AuthResponse
	if err := json.Unmarshal(raw, &ar); err != nil || ar.User == nil {
		return models.User{}, ErrInvalidResponse
	}
	u := *ar.User
	if u.Name == "" {
		u.Name = u.Email
	}
	if u.Role == "" {
		u.Role = models.RoleCustomer
	}
	if err := s.store(ctx, &u, ar.Token); err != nil {
		return models.User{}, err
	}
	s.logger.Info("user signed in", "user_id", u.ID, "role", u.Role)
	return u, nil
}

func (s *Session) store(ctx context.Context, u *models.User, token string) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	prev, prevErr := s.storage.Get(ctx, userKey)
	if err := s.storage.Set(ctx, userKey, b); err != nil {
		return fmt.Errorf("persist user: %w", err)
	}
	if err := s.storage.Set(ctx, tokenKey, []byte(token)); err != nil {
		// put the stored user back so storage matches memory
		var rerr error
		if prevErr == nil {
			rerr = s.storage.Set(ctx, userKey, prev)
		} else {
			rerr = s.storage.Delete(ctx, userKey)
		}
		if rerr != nil {
			s.logger.Warn("roll back stored user failed", "error", rerr)
		}
		return fmt.Errorf("persist token: %w", err)
	}
	s.mu.Lock()
	s.user = u
	s.token = token
	s.mu.Unlock()
	s.publish(u)
	return nil
}

// Logout forgets the user locally. Storage errors are logged, not returned.
func (s *Session) Logout(ctx context.Context) {
	for _, k := range []string{userKey, tokenKey} {
		if err := s.storage.Delete(ctx, k); err != nil {
			s.logger.Warn("logout: delete failed", "key", k, "error", err)
		}
	}
	s.mu.Lock()
	s.user = nil
	s.token = ""
	s.mu.Unlock()
	s.publish(nil)
}

// Current returns a copy of the signed-in user, or nil.
func (s *Session) Current() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) IsAuthenticated() bool { return s.Current() != nil }

func (s *Session) IsAdmin() bool {
	u := s.Current()
	return u != nil && u.Role == models.RoleAdmin
}

func (s *Session) IsCustomer() bool {
	u := s.Current()
	return u != nil && u.Role == models.RoleCustomer
}

// Subscribe delivers the current user (possibly nil) and every later change.
func (s *Session) Subscribe(l func(*models.User)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = l
	s.subsMu.Unlock()
	l(s.Current())
	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Session) publish(u *models.User) {
	s.subsMu.Lock()
	ls := make([]func(*models.User), 0, len(s.subs))
	for _, l := range s.subs {
		ls = append(ls, l)
	}
	s.subsMu.Unlock()
	for _, l := range ls {
		if u == nil {
			l(nil)
			continue
		}
		cp := *u
		l(&cp)
	}
}
