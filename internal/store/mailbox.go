package store

import "sync"

// docMailbox buffers the newest document snapshot for one subscriber. A
// snapshot arriving before the previous one is consumed replaces it, so a
// slow consumer always reads current state rather than a backlog.
type docMailbox struct {
	mu        sync.Mutex
	cond      *sync.Cond
	pending   *DocumentSnapshot
	err       error
	cancelled bool
	onCancel  func()
}

func newDocMailbox(onCancel func()) *docMailbox {
	b := &docMailbox{onCancel: onCancel}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *docMailbox) Next() (DocumentSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.pending == nil && b.err == nil && !b.cancelled {
		b.cond.Wait()
	}
	if b.cancelled {
		return DocumentSnapshot{}, ErrCancelled
	}
	if b.pending != nil {
		snap := *b.pending
		b.pending = nil
		return snap, nil
	}
	return DocumentSnapshot{}, b.err
}

func (b *docMailbox) Cancel() {
	b.mu.Lock()
	if b.cancelled {
		b.mu.Unlock()
		return
	}
	b.cancelled = true
	b.mu.Unlock()
	b.cond.Broadcast()
	if b.onCancel != nil {
		b.onCancel()
	}
}

func (b *docMailbox) deliver(snap DocumentSnapshot) {
	b.mu.Lock()
	if b.cancelled || b.err != nil {
		b.mu.Unlock()
		return
	}
	b.pending = &snap
	b.mu.Unlock()
	b.cond.Signal()
}

func (b *docMailbox) fail(err error) {
	b.mu.Lock()
	if b.cancelled || b.err != nil {
		b.mu.Unlock()
		return
	}
	b.err = err
	b.mu.Unlock()
	b.cond.Broadcast()
}

// colMailbox is the collection counterpart of docMailbox.
type colMailbox struct {
	mu        sync.Mutex
	cond      *sync.Cond
	pending   *CollectionSnapshot
	err       error
	cancelled bool
	onCancel  func()
}

func newColMailbox(onCancel func()) *colMailbox {
	b := &colMailbox{onCancel: onCancel}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *colMailbox) Next() (CollectionSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.pending == nil && b.err == nil && !b.cancelled {
		b.cond.Wait()
	}
	if b.cancelled {
		return CollectionSnapshot{}, ErrCancelled
	}
	if b.pending != nil {
		snap := *b.pending
		b.pending = nil
		return snap, nil
	}
	return CollectionSnapshot{}, b.err
}

func (b *colMailbox) Cancel() {
	b.mu.Lock()
	if b.cancelled {
		b.mu.Unlock()
		return
	}
	b.cancelled = true
	b.mu.Unlock()
	b.cond.Broadcast()
	if b.onCancel != nil {
		b.onCancel()
	}
}

func (b *colMailbox) deliver(snap CollectionSnapshot) {
	b.mu.Lock()
	if b.cancelled || b.err != nil {
		b.mu.Unlock()
		return
	}
	b.pending = &snap
	b.mu.Unlock()
	b.cond.Signal()
}

func (b *colMailbox) fail(err error) {
	b.mu.Lock()
	if b.cancelled || b.err != nil {
		b.mu.Unlock()
		return
	}
	b.err = err
	b.mu.Unlock()
	b.cond.Broadcast()
}
