package portal

import (
	"context"
	"strings"
	"sync"
	"time"

	"gymassist-backend/lib/scrapers/clubos/core"
	"gymassist-backend/lib/timezone"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

const (
	sessionMaxAge       = time.Hour * 8
	sessionMaxIdle      = time.Hour * 2
	defaultAuthCooldown = time.Second * 5
)

// Credentials identifies one portal login. Sessions are cached per
// (service, username), case-insensitively.
type Credentials struct {
	Service  string
	Username string
	Password string
}

func (c Credentials) key() string {
	return strings.ToLower(c.Service) + ":" + strings.ToLower(c.Username)
}

type SessionCacheOptions struct {
	BaseUrl string
	// ValidateOnReuse pings the portal before handing out a cached session
	// and transparently re-authenticates when the ping fails.
	ValidateOnReuse bool
	// Timeout is passed through to each session's HTTP clients.
	Timeout time.Duration
	// AuthCooldown spaces consecutive login attempts per identity.
	// Zero means 5s.
	AuthCooldown time.Duration
}

// SessionCache owns every live portal session. Authentication for the same
// identity is collapsed into one flight, and consecutive attempts are spaced
// by a cooldown so a misbehaving caller cannot hammer the login endpoint.
type SessionCache struct {
	opts SessionCacheOptions

	mu       sync.Mutex
	sessions map[string]*core.Client
	lastAuth map[string]time.Time

	group singleflight.Group
}

func NewSessionCache(opts SessionCacheOptions) *SessionCache {
	if opts.AuthCooldown == 0 {
		opts.AuthCooldown = defaultAuthCooldown
	}
	return &SessionCache{
		opts:     opts,
		sessions: map[string]*core.Client{},
		lastAuth: map[string]time.Time{},
	}
}

// Acquire returns a live session for the identity, logging in only when no
// cached session can be reused. Concurrent calls for the same identity share
// one login; calls for different identities proceed independently. The
// mutex is never held across HTTP.
func (s *SessionCache) Acquire(ctx context.Context, creds Credentials) (*core.Client, error) {
	ctx, span := tracer.Start(ctx, "sessionCache:Acquire")
	defer span.End()

	key := creds.key()
	span.SetAttributes(attribute.String("session_key", key))

	if client := s.lookup(key); client != nil {
		if !s.opts.ValidateOnReuse || client.Validate(ctx) {
			client.Touch()
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return client, nil
		}
		// dead server-side, evict and fall through to a fresh login
		s.evict(key, client)
	}

	result, err, _ := s.group.Do(key, func() (any, error) {
		// a concurrent flight may have just populated the slot
		if client := s.lookup(key); client != nil {
			return client, nil
		}
		if err := s.waitCooldown(ctx, key); err != nil {
			return nil, err
		}
		return s.authenticate(ctx, creds)
	})
	if err != nil {
		return nil, err
	}
	return result.(*core.Client), nil
}

func (s *SessionCache) lookup(key string) *core.Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.sessions[key]
	if !ok {
		return nil
	}
	if client.Expired(sessionMaxAge) || client.Stale(sessionMaxIdle) {
		delete(s.sessions, key)
		return nil
	}
	return client
}

func (s *SessionCache) evict(key string, client *core.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[key] == client {
		delete(s.sessions, key)
	}
}

// waitCooldown blocks until the per-identity cooldown since the last auth
// attempt has elapsed, or the context is done.
func (s *SessionCache) waitCooldown(ctx context.Context, key string) error {
	s.mu.Lock()
	last := s.lastAuth[key]
	s.mu.Unlock()

	remaining := s.opts.AuthCooldown - timezone.Now().Sub(last)
	if remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	s.lastAuth[key] = timezone.Now()
	s.mu.Unlock()
	return nil
}

// authenticate performs a full login and caches the session only on success.
// A cancelled or failed login leaves no entry behind.
func (s *SessionCache) authenticate(ctx context.Context, creds Credentials) (*core.Client, error) {
	client, err := core.NewClient(ctx, core.ClientOptions{
		BaseUrl:  s.opts.BaseUrl,
		Service:  creds.Service,
		Username: creds.Username,
		Timeout:  s.opts.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Login(ctx, creds.Username, creds.Password); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[creds.key()] = client
	s.mu.Unlock()
	return client, nil
}

// Invalidate drops the cached session for an identity. The next Acquire
// re-authenticates.
func (s *SessionCache) Invalidate(creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, creds.key())
}

// Sweep removes expired and stale sessions, returning how many were dropped.
// Meant to run periodically from the daemon.
func (s *SessionCache) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for key, client := range s.sessions {
		if client.Expired(sessionMaxAge) || client.Stale(sessionMaxIdle) {
			delete(s.sessions, key)
			dropped++
		}
	}
	return dropped
}

type SessionInfo struct {
	Key             string
	Service         string
	Username        string
	Authenticated   bool
	BearerDerived   bool
	DelegatedUserId string
	CreatedAt       time.Time
	LastUsed        time.Time
}

type Stats struct {
	Sessions []SessionInfo
}

// Stats snapshots the cache for diagnostics.
func (s *SessionCache) Stats() Stats {
	s.mu.Lock()
	clients := make(map[string]*core.Client, len(s.sessions))
	for key, client := range s.sessions {
		clients[key] = client
	}
	s.mu.Unlock()

	var stats Stats
	for key, client := range clients {
		_, derived := client.BearerToken()
		stats.Sessions = append(stats.Sessions, SessionInfo{
			Key:             key,
			Service:         client.Service,
			Username:        client.Username,
			Authenticated:   client.Authenticated(),
			BearerDerived:   derived,
			DelegatedUserId: client.DelegatedUserId(),
			CreatedAt:       client.CreatedAt,
			LastUsed:        client.LastUsed(),
		})
	}
	return stats
}
