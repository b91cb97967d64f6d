// Package profile keeps a live local copy of the signed-in user's profile
// document and creates the document the first time an identity shows up
// without one.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/inkwell/client/internal/models"
	"github.com/inkwell/client/internal/store"
)

// ErrCreateFailed marks a failure writing the default profile document, as
// opposed to a failure of the subscription itself. Matched with errors.Is.
var ErrCreateFailed = errors.New("profile create failed")

// Sink receives profile state changes. Calls arrive from the synchronizer's
// pump goroutine, one at a time.
type Sink interface {
	ProfileChanged(p models.Profile)
	ProfileFailed(err error)
}

type Synchronizer struct {
	store store.RemoteStore
	paths store.Paths
	sink  Sink

	slot store.Slot

	mu       sync.Mutex
	gen      int64
	identity models.Identity
	created  bool

	// sinkMu makes the gen check and the sink call a single step. Activate
	// and Deactivate bump gen while holding it, so a snapshot of a previous
	// identity can never reach the sink after the transition.
	sinkMu sync.Mutex
}

func New(st store.RemoteStore, paths store.Paths, sink Sink) *Synchronizer {
	return &Synchronizer{store: st, paths: paths, sink: sink}
}

// Activate follows the profile document for id's uid, cancelling any
// previous subscription first. A missing document is created once per
// activation with defaults derived from the identity; the create is a merge
// write, so concurrent first sign-ins converge on one document.
func (s *Synchronizer) Activate(ctx context.Context, id models.Identity) {
	s.sinkMu.Lock()
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.identity = id
	s.created = false
	s.mu.Unlock()
	s.sinkMu.Unlock()

	path := s.paths.UserDoc(id.UID)
	err := s.slot.Swap(path, func() (func(), error) {
		stream, err := s.store.SubscribeDocument(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("profile subscribe: %w", err)
		}
		go s.pump(ctx, gen, id, stream)
		return stream.Cancel, nil
	})
	if err != nil {
		log.Error().Err(err).Str("uid", id.UID).Msg("profile subscription failed")
		s.sinkMu.Lock()
		if s.current(gen) {
			s.sink.ProfileFailed(err)
		}
		s.sinkMu.Unlock()
		return
	}
	log.Debug().Str("uid", id.UID).Msg("profile subscription established")
}

// Deactivate stops following the profile document. It waits out a delivery
// already past its gen check, so once Deactivate returns the sink receives
// nothing further for the old identity.
func (s *Synchronizer) Deactivate() {
	s.sinkMu.Lock()
	s.mu.Lock()
	s.gen++
	s.identity = models.Unauthenticated()
	s.created = false
	s.mu.Unlock()
	s.slot.Clear()
	s.sinkMu.Unlock()
}

// UpdateDisplayName merge-writes the new name into the current profile
// document. It returns once the write is acknowledged; the local profile
// updates later, through the subscription.
func (s *Synchronizer) UpdateDisplayName(ctx context.Context, req models.UpdateProfileRequest) error {
	if errs := req.Validate(); len(errs) > 0 {
		return models.ValidationError(errs)
	}
	s.mu.Lock()
	uid := s.identity.UID
	s.mu.Unlock()
	if uid == "" {
		return store.ErrNotSignedIn
	}
	fields := map[string]any{"displayName": req.DisplayName}
	if err := s.store.WriteDocument(ctx, s.paths.UserDoc(uid), fields, true); err != nil {
		return fmt.Errorf("profile update: %w", err)
	}
	return nil
}

func (s *Synchronizer) pump(ctx context.Context, gen int64, id models.Identity, stream store.DocumentStream) {
	for {
		snap, err := stream.Next()
		if err != nil {
			if errors.Is(err, store.ErrCancelled) {
				return
			}
			s.sinkMu.Lock()
			if s.current(gen) {
				log.Error().Err(err).Str("uid", id.UID).Msg("profile stream failed")
				s.sink.ProfileFailed(fmt.Errorf("profile listen: %w", err))
			}
			s.sinkMu.Unlock()
			return
		}
		if !s.current(gen) {
			return
		}
		if !snap.Exists {
			s.createDefault(ctx, gen, id)
			continue
		}
		s.sinkMu.Lock()
		if !s.current(gen) {
			s.sinkMu.Unlock()
			return
		}
		s.sink.ProfileChanged(models.ProfileFromFields(id.UID, snap.Fields))
		s.sinkMu.Unlock()
	}
}

// createDefault writes the starter profile at most once per activation. The
// next snapshot carries the created document back through the subscription.
func (s *Synchronizer) createDefault(ctx context.Context, gen int64, id models.Identity) {
	s.mu.Lock()
	if s.gen != gen || s.created {
		s.mu.Unlock()
		return
	}
	s.created = true
	s.mu.Unlock()

	fields := map[string]any{"displayName": id.ProfileName()}
	if id.Email != "" {
		fields["email"] = id.Email
	}
	log.Info().Str("uid", id.UID).Msg("creating default profile")
	if err := s.store.WriteDocument(ctx, s.paths.UserDoc(id.UID), fields, true); err != nil {
		log.Error().Err(err).Str("uid", id.UID).Msg("default profile write failed")
		s.sinkMu.Lock()
		if s.current(gen) {
			s.sink.ProfileFailed(fmt.Errorf("%w: %v", ErrCreateFailed, err))
		}
		s.sinkMu.Unlock()
	}
}

func (s *Synchronizer) current(gen int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}
