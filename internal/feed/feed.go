// Package feed keeps a live, locally-sorted copy of one remote collection.
// The same synchronizer drives the post list (static path, newest first) and
// the comment list of the selected post (path keyed by post id, oldest
// first).
package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/inkwell/client/internal/store"
)

// ErrNotSubscribed is returned by Append when no collection is active.
var ErrNotSubscribed = errors.New("no active collection")

// Order is the in-memory sort applied to every snapshot.
type Order int

const (
	NewestFirst Order = iota
	OldestFirst
)

// Sink receives collection state changes. Calls arrive from the
// synchronizer's pump goroutine, one at a time.
type Sink interface {
	// CollectionChanged replaces the consumer's entire list; docs are the
	// latest snapshot, already sorted. It is never a partial update.
	CollectionChanged(docs []store.Document)
	CollectionFailed(err error)
}

type Synchronizer struct {
	store   store.RemoteStore
	order   Order
	pathFor func(key string) string
	sink    Sink

	slot store.Slot

	mu     sync.Mutex
	gen    int64
	key    string
	active bool

	// sinkMu makes the gen check and the sink call a single step. SetKey and
	// Clear bump gen while holding it, so a delivery for a cancelled
	// generation can never land after the transition's own delivery.
	sinkMu sync.Mutex
}

// New builds a synchronizer over the collection pathFor derives from a key.
// A static collection ignores the key.
func New(st store.RemoteStore, order Order, pathFor func(key string) string, sink Sink) *Synchronizer {
	return &Synchronizer{store: st, order: order, pathFor: pathFor, sink: sink}
}

// SetKey subscribes to the collection for key, cancelling any previous
// subscription first. The two subscriptions never overlap, and once SetKey
// returns no snapshot of the previous key reaches the sink.
func (s *Synchronizer) SetKey(ctx context.Context, key string) {
	s.sinkMu.Lock()
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.key = key
	s.active = true
	s.mu.Unlock()
	s.sinkMu.Unlock()

	path := s.pathFor(key)
	err := s.slot.Swap(path, func() (func(), error) {
		stream, err := s.store.SubscribeCollection(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("collection subscribe: %w", err)
		}
		go s.pump(gen, path, stream)
		return stream.Cancel, nil
	})
	if err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.active = false
		}
		s.mu.Unlock()
		log.Error().Err(err).Str("path", path).Msg("collection subscription failed")
		s.sinkMu.Lock()
		if s.current(gen) {
			s.sink.CollectionFailed(err)
		}
		s.sinkMu.Unlock()
		return
	}
	log.Debug().Str("path", path).Msg("collection subscription established")
}

// Clear cancels the subscription and empties the consumer's list. The empty
// list is always the final delivery: an in-flight snapshot finishes first,
// and nothing from the cancelled subscription can follow.
func (s *Synchronizer) Clear() {
	s.sinkMu.Lock()
	s.mu.Lock()
	s.gen++
	s.key = ""
	s.active = false
	s.mu.Unlock()
	s.slot.Clear()
	s.sink.CollectionChanged(nil)
	s.sinkMu.Unlock()
}

// Append adds a document to the active collection with a server-assigned
// createdAt. The new document is not inserted locally; it becomes visible
// when a later snapshot carries it.
func (s *Synchronizer) Append(ctx context.Context, fields map[string]any) (string, error) {
	s.mu.Lock()
	active, key := s.active, s.key
	s.mu.Unlock()
	if !active {
		return "", ErrNotSubscribed
	}
	path := s.pathFor(key)
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["createdAt"] = store.ServerTimestamp
	id, err := s.store.AppendDocument(ctx, path, out)
	if err != nil {
		return "", fmt.Errorf("append %s: %w", path, err)
	}
	log.Debug().Str("path", path).Str("id", id).Msg("document appended")
	return id, nil
}

func (s *Synchronizer) pump(gen int64, path string, stream store.CollectionStream) {
	for {
		snap, err := stream.Next()
		if err != nil {
			if errors.Is(err, store.ErrCancelled) {
				return
			}
			s.sinkMu.Lock()
			if s.current(gen) {
				log.Error().Err(err).Str("path", path).Msg("collection stream failed")
				s.sink.CollectionFailed(fmt.Errorf("collection listen: %w", err))
			}
			s.sinkMu.Unlock()
			return
		}
		s.sinkMu.Lock()
		if !s.current(gen) {
			s.sinkMu.Unlock()
			return
		}
		docs := snap.Docs
		s.sortDocs(docs)
		s.sink.CollectionChanged(docs)
		s.sinkMu.Unlock()
	}
}

func (s *Synchronizer) current(gen int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// sortDocs orders docs by their createdAt field. A document whose timestamp
// has not resolved yet sorts as time zero; equal times fall back to id so
// the order is stable across snapshots.
func (s *Synchronizer) sortDocs(docs []store.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		ti, tj := docTime(docs[i]), docTime(docs[j])
		if !ti.Equal(tj) {
			if s.order == NewestFirst {
				return ti.After(tj)
			}
			return ti.Before(tj)
		}
		return docs[i].ID < docs[j].ID
	})
}

func docTime(d store.Document) time.Time {
	if t, ok := d.Fields["createdAt"].(time.Time); ok {
		return t
	}
	return time.Time{}
}
