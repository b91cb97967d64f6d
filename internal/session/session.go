// Package session resolves and tracks the signed-in identity. All identity
// transitions in the app go through the Manager; nothing else constructs or
// replaces identities.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/inkwell/client/internal/models"
	"github.com/inkwell/client/internal/store"
)

type Manager struct {
	store store.RemoteStore
	paths store.Paths
	token string

	mu        sync.Mutex
	identity  models.Identity
	ready     bool
	nextSub   int64
	listeners map[int64]func()
}

// NewManager wires the identity lifecycle to st. bootstrapToken may be
// empty; when set it is offered during Resolve.
func NewManager(st store.RemoteStore, paths store.Paths, bootstrapToken string) *Manager {
	return &Manager{
		store:     st,
		paths:     paths,
		token:     bootstrapToken,
		identity:  models.Unauthenticated(),
		listeners: make(map[int64]func()),
	}
}

// Resolve establishes the starting identity. Exactly one path runs: adopt an
// existing session, exchange the bootstrap token, or sign in anonymously.
// A rejected token falls back to anonymous rather than failing resolution.
// Readiness flips true once the path that ran has finished, either way.
func (m *Manager) Resolve(ctx context.Context) error {
	if sess, err := m.store.CurrentSession(ctx); err == nil {
		log.Info().Str("uid", sess.UID).Bool("anonymous", sess.Anonymous).Msg("adopted existing session")
		m.become(identityFromSession(sess))
		return nil
	}
	if m.token != "" {
		sess, err := m.store.SignInWithToken(ctx, m.token)
		if err == nil {
			log.Info().Str("uid", sess.UID).Msg("signed in with bootstrap token")
			m.become(identityFromSession(sess))
			return nil
		}
		log.Warn().Err(err).Msg("bootstrap token rejected, falling back to anonymous")
	}
	sess, err := m.store.SignInAnonymously(ctx)
	if err != nil {
		m.become(models.Unauthenticated())
		return fmt.Errorf("anonymous sign-in: %w", err)
	}
	log.Info().Str("uid", sess.UID).Msg("signed in anonymously")
	m.become(identityFromSession(sess))
	return nil
}

// SignInWithProvider exchanges a provider assertion for a federated session.
// On success the provider's name and email are merged into the user's
// profile document without touching its other fields; a failed merge is
// logged and the sign-in stands. On failure the prior identity is untouched.
func (m *Manager) SignInWithProvider(ctx context.Context, provider, assertion string) error {
	sess, err := m.store.SignInWithProvider(ctx, provider, assertion)
	if err != nil {
		return fmt.Errorf("%s sign-in: %w", provider, err)
	}
	id := identityFromSession(sess)
	log.Info().Str("uid", id.UID).Str("provider", provider).Msg("signed in")
	fields := map[string]any{"displayName": id.ProfileName()}
	if id.Email != "" {
		fields["email"] = id.Email
	}
	if err := m.store.WriteDocument(ctx, m.paths.UserDoc(id.UID), fields, true); err != nil {
		log.Warn().Err(err).Str("uid", id.UID).Msg("profile upsert after sign-in failed")
	}
	m.become(id)
	return nil
}

// SignOut ends the session and signs back in anonymously. Anonymous is the
// floor; after startup the app never returns to an unauthenticated state
// unless the anonymous sign-in itself fails.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.store.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	sess, err := m.store.SignInAnonymously(ctx)
	if err != nil {
		m.become(models.Unauthenticated())
		return fmt.Errorf("anonymous sign-in after sign-out: %w", err)
	}
	log.Info().Str("uid", sess.UID).Msg("signed out, anonymous session established")
	m.become(identityFromSession(sess))
	return nil
}

func (m *Manager) Identity() models.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Ready reports whether the first resolution has completed.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// OnChange registers fn to run after every identity or readiness transition.
// The returned function removes the registration.
func (m *Manager) OnChange(fn func()) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) become(id models.Identity) {
	m.mu.Lock()
	m.identity = id
	m.ready = true
	fns := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func identityFromSession(s store.Session) models.Identity {
	if s.Anonymous {
		return models.Anonymous(s.UID)
	}
	return models.Federated(s.UID, s.DisplayName, s.Email)
}
