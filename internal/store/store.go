// Package store abstracts the hosted document database and its identity
// service behind one interface. Three backends implement it: Cloud Firestore,
// MongoDB, and an in-memory store used by tests and the offline demo mode.
package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrCancelled is returned by a stream's Next after Cancel.
	ErrCancelled = errors.New("subscription cancelled")

	// ErrNotSignedIn is returned when an operation needs a session and none
	// is established.
	ErrNotSignedIn = errors.New("not signed in")

	// ErrInvalidToken is returned when a sign-in credential is rejected.
	ErrInvalidToken = errors.New("invalid auth token")
)

// ServerTimestamp marks a field whose value is assigned by the backend at
// write time. Readers see the field as a time.Time once the write commits.
var ServerTimestamp = serverTimestamp{}

type serverTimestamp struct{}

// Document is one stored record. ID is the final segment of its path.
type Document struct {
	ID     string
	Fields map[string]any
}

// DocumentSnapshot is the state of a single document at one point in time.
// A snapshot for a missing document has Exists false and nil Fields.
type DocumentSnapshot struct {
	Exists bool
	Fields map[string]any
}

// CollectionSnapshot is the full state of a collection at one point in time.
// Consumers replace their previous view with it; snapshots are never deltas.
type CollectionSnapshot struct {
	Docs []Document
}

// Session is an authenticated principal as reported by the identity service.
type Session struct {
	UID         string
	DisplayName string
	Email       string
	Anonymous   bool
	Expiry      time.Time
}

// DocumentStream delivers successive snapshots of one document. Next blocks
// until a snapshot arrives and returns ErrCancelled once Cancel is called,
// including for a snapshot still pending at that point.
type DocumentStream interface {
	Next() (DocumentSnapshot, error)
	Cancel()
}

// CollectionStream delivers successive snapshots of one collection.
type CollectionStream interface {
	Next() (CollectionSnapshot, error)
	Cancel()
}

// RemoteStore is the backend surface the rest of the app is written against.
type RemoteStore interface {
	// CurrentSession reports a session restored from earlier use, or
	// ErrNotSignedIn when the process starts unauthenticated.
	CurrentSession(ctx context.Context) (Session, error)
	SignInWithToken(ctx context.Context, token string) (Session, error)
	SignInAnonymously(ctx context.Context) (Session, error)
	SignInWithProvider(ctx context.Context, provider, assertion string) (Session, error)
	SignOut(ctx context.Context) error

	SubscribeDocument(ctx context.Context, path string) (DocumentStream, error)
	SubscribeCollection(ctx context.Context, path string) (CollectionStream, error)

	// WriteDocument stores fields at path. With merge set, existing fields
	// not named are kept and a missing document is created.
	WriteDocument(ctx context.Context, path string, fields map[string]any, merge bool) error

	// AppendDocument adds a document with a generated id to the collection
	// at path and returns the id.
	AppendDocument(ctx context.Context, path string, fields map[string]any) (string, error)

	Close() error
}

// Paths builds the document and collection paths shared by every backend.
// All app data lives under artifacts/{appID}/public/data, so multiple
// deployments can share a backend project.
type Paths struct {
	AppID string
}

func (p Paths) root() string { return "artifacts/" + p.AppID + "/public/data" }

func (p Paths) UserDoc(uid string) string { return p.root() + "/users/" + uid }

func (p Paths) Posts() string { return p.root() + "/posts" }

func (p Paths) Post(postID string) string { return p.Posts() + "/" + postID }

func (p Paths) Comments(postID string) string { return p.Post(postID) + "/comments" }

func docID(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func parentPath(path string) string {
	if i := strings.LastIndex(path, "/"); i > 0 {
		return path[:i]
	}
	return ""
}

// sessionHolder tracks the signed-in session for backends whose identity
// service is stateless from the client's point of view.
type sessionHolder struct {
	mu      sync.Mutex
	session *Session
}

func (h *sessionHolder) CurrentSession(ctx context.Context) (Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return Session{}, ErrNotSignedIn
	}
	return *h.session, nil
}

func (h *sessionHolder) SignOut(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = nil
	return nil
}

func (h *sessionHolder) adopt(s Session) Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = &s
	return s
}
