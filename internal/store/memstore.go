package store

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory RemoteStore. It backs the tests and the offline
// demo mode, and behaves like the hosted backends: writes push fresh
// snapshots to live subscribers, and delivery coalesces to the latest state.
type MemStore struct {
	sessionHolder

	mu       sync.Mutex
	now      func() time.Time
	docs     map[string]map[string]any
	tokens   map[string]Session
	accounts map[string]Session
	writeErr error

	nextSub int64
	docSubs map[string]map[int64]*docMailbox
	colSubs map[string]map[int64]*colMailbox
}

func NewMemStore() *MemStore {
	return &MemStore{
		now:      time.Now,
		docs:     make(map[string]map[string]any),
		tokens:   make(map[string]Session),
		accounts: make(map[string]Session),
		docSubs:  make(map[string]map[int64]*docMailbox),
		colSubs:  make(map[string]map[int64]*colMailbox),
	}
}

// SetClock overrides the timestamp source used for ServerTimestamp fields.
func (m *MemStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// ExportDocs returns a copy of every stored document, keyed by path.
func (m *MemStore) ExportDocs() map[string]map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]map[string]any, len(m.docs))
	for path, fields := range m.docs {
		out[path] = maps.Clone(fields)
	}
	return out
}

// ImportDocs loads documents into the store, replacing any current contents.
// Meant for restoring a snapshot before subscribers attach; live subscribers
// are not notified.
func (m *MemStore) ImportDocs(docs map[string]map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string]map[string]any, len(docs))
	for path, fields := range docs {
		m.docs[path] = maps.Clone(fields)
	}
}

// SeedSession makes the first CurrentSession call return s, simulating an
// identity restored from earlier use.
func (m *MemStore) SeedSession(s Session) {
	m.adopt(s)
}

// RegisterToken makes SignInWithToken accept token and yield s.
func (m *MemStore) RegisterToken(token string, s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = s
}

// RegisterAccount makes SignInWithProvider accept the provider and assertion
// pair and yield s.
func (m *MemStore) RegisterAccount(provider, assertion string, s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[provider+":"+assertion] = s
}

// SetWriteError makes subsequent writes fail with err; nil restores normal
// behaviour.
func (m *MemStore) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// FailSubscribers delivers err to every live subscriber at path.
func (m *MemStore) FailSubscribers(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.docSubs[path] {
		sub.fail(err)
	}
	for _, sub := range m.colSubs[path] {
		sub.fail(err)
	}
}

func (m *MemStore) SignInWithToken(ctx context.Context, token string) (Session, error) {
	m.mu.Lock()
	s, ok := m.tokens[token]
	m.mu.Unlock()
	if !ok {
		return Session{}, ErrInvalidToken
	}
	return m.adopt(s), nil
}

func (m *MemStore) SignInAnonymously(ctx context.Context) (Session, error) {
	return m.adopt(Session{UID: uuid.NewString(), Anonymous: true}), nil
}

func (m *MemStore) SignInWithProvider(ctx context.Context, provider, assertion string) (Session, error) {
	m.mu.Lock()
	s, ok := m.accounts[provider+":"+assertion]
	m.mu.Unlock()
	if !ok {
		return Session{}, ErrInvalidToken
	}
	return m.adopt(s), nil
}

func (m *MemStore) SubscribeDocument(ctx context.Context, path string) (DocumentStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	sub := newDocMailbox(func() { m.dropDocSub(path, id) })
	subs := m.docSubs[path]
	if subs == nil {
		subs = make(map[int64]*docMailbox)
		m.docSubs[path] = subs
	}
	subs[id] = sub
	sub.deliver(m.docSnapshotLocked(path))
	return sub, nil
}

func (m *MemStore) SubscribeCollection(ctx context.Context, path string) (CollectionStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	sub := newColMailbox(func() { m.dropColSub(path, id) })
	subs := m.colSubs[path]
	if subs == nil {
		subs = make(map[int64]*colMailbox)
		m.colSubs[path] = subs
	}
	subs[id] = sub
	sub.deliver(m.colSnapshotLocked(path))
	return sub, nil
}

func (m *MemStore) WriteDocument(ctx context.Context, path string, fields map[string]any, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	resolved := m.resolveFieldsLocked(fields)
	if merge {
		existing := m.docs[path]
		if existing == nil {
			existing = make(map[string]any)
			m.docs[path] = existing
		}
		for k, v := range resolved {
			existing[k] = v
		}
	} else {
		m.docs[path] = resolved
	}
	m.notifyLocked(path)
	return nil
}

func (m *MemStore) AppendDocument(ctx context.Context, path string, fields map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return "", m.writeErr
	}
	id := uuid.NewString()
	docPath := path + "/" + id
	m.docs[docPath] = m.resolveFieldsLocked(fields)
	m.notifyLocked(docPath)
	return id, nil
}

func (m *MemStore) Close() error {
	m.mu.Lock()
	docSubs, colSubs := m.docSubs, m.colSubs
	m.docSubs = make(map[string]map[int64]*docMailbox)
	m.colSubs = make(map[string]map[int64]*colMailbox)
	m.mu.Unlock()
	for _, subs := range docSubs {
		for _, sub := range subs {
			sub.Cancel()
		}
	}
	for _, subs := range colSubs {
		for _, sub := range subs {
			sub.Cancel()
		}
	}
	return nil
}

func (m *MemStore) dropDocSub(path string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.docSubs[path]
	delete(subs, id)
	if len(subs) == 0 {
		delete(m.docSubs, path)
	}
}

func (m *MemStore) dropColSub(path string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.colSubs[path]
	delete(subs, id)
	if len(subs) == 0 {
		delete(m.colSubs, path)
	}
}

func (m *MemStore) docSnapshotLocked(path string) DocumentSnapshot {
	fields, ok := m.docs[path]
	if !ok {
		return DocumentSnapshot{}
	}
	return DocumentSnapshot{Exists: true, Fields: maps.Clone(fields)}
}

func (m *MemStore) colSnapshotLocked(path string) CollectionSnapshot {
	prefix := path + "/"
	var docs []Document
	for docPath, fields := range m.docs {
		if !strings.HasPrefix(docPath, prefix) {
			continue
		}
		id := docPath[len(prefix):]
		if strings.Contains(id, "/") {
			continue
		}
		docs = append(docs, Document{ID: id, Fields: maps.Clone(fields)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return CollectionSnapshot{Docs: docs}
}

// resolveFieldsLocked copies fields, substituting the ServerTimestamp
// sentinel with the store clock.
func (m *MemStore) resolveFieldsLocked(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if v == ServerTimestamp {
			out[k] = m.now().UTC()
			continue
		}
		out[k] = v
	}
	return out
}

// notifyLocked pushes fresh snapshots to the document's subscribers and to
// subscribers of its parent collection.
func (m *MemStore) notifyLocked(docPath string) {
	for _, sub := range m.docSubs[docPath] {
		sub.deliver(m.docSnapshotLocked(docPath))
	}
	if parent := parentPath(docPath); parent != "" {
		for _, sub := range m.colSubs[parent] {
			sub.deliver(m.colSnapshotLocked(parent))
		}
	}
}
