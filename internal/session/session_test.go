package session

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/inkwell/client/internal/models"
	"github.com/inkwell/client/internal/store"
)

type fakeStore struct {
	currentSessionFn     func(ctx context.Context) (store.Session, error)
	signInWithTokenFn    func(ctx context.Context, token string) (store.Session, error)
	signInAnonymouslyFn  func(ctx context.Context) (store.Session, error)
	signInWithProviderFn func(ctx context.Context, provider, assertion string) (store.Session, error)
	signOutFn            func(ctx context.Context) error
	writeDocumentFn      func(ctx context.Context, path string, fields map[string]any, merge bool) error
}

func (f *fakeStore) CurrentSession(ctx context.Context) (store.Session, error) {
	if f.currentSessionFn != nil {
		return f.currentSessionFn(ctx)
	}
	return store.Session{}, store.ErrNotSignedIn
}

func (f *fakeStore) SignInWithToken(ctx context.Context, token string) (store.Session, error) {
	if f.signInWithTokenFn != nil {
		return f.signInWithTokenFn(ctx, token)
	}
	return store.Session{}, store.ErrInvalidToken
}

func (f *fakeStore) SignInAnonymously(ctx context.Context) (store.Session, error) {
	if f.signInAnonymouslyFn != nil {
		return f.signInAnonymouslyFn(ctx)
	}
	return store.Session{UID: "anon-fake", Anonymous: true}, nil
}

func (f *fakeStore) SignInWithProvider(ctx context.Context, provider, assertion string) (store.Session, error) {
	if f.signInWithProviderFn != nil {
		return f.signInWithProviderFn(ctx, provider, assertion)
	}
	return store.Session{}, store.ErrInvalidToken
}

func (f *fakeStore) SignOut(ctx context.Context) error {
	if f.signOutFn != nil {
		return f.signOutFn(ctx)
	}
	return nil
}

func (f *fakeStore) SubscribeDocument(context.Context, string) (store.DocumentStream, error) {
	return nil, errors.New("no document stream configured")
}

func (f *fakeStore) SubscribeCollection(context.Context, string) (store.CollectionStream, error) {
	return nil, errors.New("no collection stream configured")
}

func (f *fakeStore) WriteDocument(ctx context.Context, path string, fields map[string]any, merge bool) error {
	if f.writeDocumentFn != nil {
		return f.writeDocumentFn(ctx, path, fields, merge)
	}
	return nil
}

func (f *fakeStore) AppendDocument(context.Context, string, map[string]any) (string, error) {
	return "", nil
}

func (f *fakeStore) Close() error { return nil }

var _ store.RemoteStore = (*fakeStore)(nil)

var testPaths = store.Paths{AppID: "testapp"}

func TestResolve_AdoptsExistingSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	st.SeedSession(store.Session{UID: "u1", DisplayName: "Ada", Email: "ada@example.com"})
	m := NewManager(st, testPaths, "")

	if err := m.Resolve(ctx); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !m.Ready() {
		t.Error("Ready() = false, want true")
	}
	want := models.Federated("u1", "Ada", "ada@example.com")
	if got := m.Identity(); got != want {
		t.Errorf("Identity() = %+v, want %+v", got, want)
	}
}

func TestResolve_ExchangesBootstrapToken(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	st.RegisterToken("boot-token", store.Session{UID: "u2", DisplayName: "Bea"})
	m := NewManager(st, testPaths, "boot-token")

	if err := m.Resolve(ctx); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := models.Federated("u2", "Bea", "")
	if got := m.Identity(); got != want {
		t.Errorf("Identity() = %+v, want %+v", got, want)
	}
}

func TestResolve_RejectedTokenFallsBackToAnonymous(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	m := NewManager(st, testPaths, "expired-token")

	if err := m.Resolve(ctx); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	got := m.Identity()
	if got.Kind != models.IdentityAnonymous {
		t.Errorf("Identity().Kind = %q, want %q", got.Kind, models.IdentityAnonymous)
	}
	if got.UID == "" {
		t.Error("expected non-empty anonymous UID")
	}
}

func TestResolve_AnonymousWithoutCredentials(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemStore(), testPaths, "")

	if err := m.Resolve(ctx); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := m.Identity(); got.Kind != models.IdentityAnonymous {
		t.Errorf("Identity().Kind = %q, want %q", got.Kind, models.IdentityAnonymous)
	}
}

func TestResolve_TotalFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("identity service down")
	st := &fakeStore{
		signInAnonymouslyFn: func(context.Context) (store.Session, error) {
			return store.Session{}, boom
		},
	}
	m := NewManager(st, testPaths, "")

	err := m.Resolve(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("Resolve() error = %v, want %v", err, boom)
	}
	if !m.Ready() {
		t.Error("Ready() = false, want true even after failed resolution")
	}
	if got := m.Identity(); got.Kind != models.IdentityUnauthenticated {
		t.Errorf("Identity().Kind = %q, want %q", got.Kind, models.IdentityUnauthenticated)
	}
}

func TestSignOut_LandsOnAnonymousFloor(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	st.SeedSession(store.Session{UID: "fed-1", DisplayName: "Ada"})
	m := NewManager(st, testPaths, "")
	if err := m.Resolve(ctx); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	before := m.Identity()

	if err := m.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	got := m.Identity()
	if got.Kind != models.IdentityAnonymous {
		t.Errorf("Identity().Kind = %q, want %q", got.Kind, models.IdentityAnonymous)
	}
	if got.UID == "" || got.UID == before.UID {
		t.Errorf("anonymous UID = %q, want fresh UID distinct from %q", got.UID, before.UID)
	}
}

func TestSignOut_StoreFailureKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("sign-out refused")
	st := &fakeStore{
		currentSessionFn: func(context.Context) (store.Session, error) {
			return store.Session{UID: "u1", DisplayName: "Ada"}, nil
		},
		signOutFn: func(context.Context) error { return boom },
	}
	m := NewManager(st, testPaths, "")
	if err := m.Resolve(ctx); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if err := m.SignOut(ctx); !errors.Is(err, boom) {
		t.Fatalf("SignOut() error = %v, want %v", err, boom)
	}
	want := models.Federated("u1", "Ada", "")
	if got := m.Identity(); got != want {
		t.Errorf("Identity() = %+v, want %+v", got, want)
	}
}

func TestSignOut_AnonymousReSignInFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("identity service down")
	st := &fakeStore{
		currentSessionFn: func(context.Context) (store.Session, error) {
			return store.Session{UID: "u1"}, nil
		},
		signInAnonymouslyFn: func(context.Context) (store.Session, error) {
			return store.Session{}, boom
		},
	}
	m := NewManager(st, testPaths, "")
	if err := m.Resolve(ctx); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if err := m.SignOut(ctx); !errors.Is(err, boom) {
		t.Fatalf("SignOut() error = %v, want %v", err, boom)
	}
	if got := m.Identity(); got.Kind != models.IdentityUnauthenticated {
		t.Errorf("Identity().Kind = %q, want %q", got.Kind, models.IdentityUnauthenticated)
	}
}

func TestSignInWithProvider_UpsertsProfileDocument(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	st.RegisterAccount("google.com", "assertion-1", store.Session{UID: "g1", DisplayName: "Gina", Email: "gina@example.com"})
	m := NewManager(st, testPaths, "")
	if err := m.Resolve(ctx); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if err := m.SignInWithProvider(ctx, "google.com", "assertion-1"); err != nil {
		t.Fatalf("SignInWithProvider() error = %v", err)
	}
	want := models.Federated("g1", "Gina", "gina@example.com")
	if got := m.Identity(); got != want {
		t.Errorf("Identity() = %+v, want %+v", got, want)
	}

	stream, err := st.SubscribeDocument(ctx, testPaths.UserDoc("g1"))
	if err != nil {
		t.Fatalf("SubscribeDocument() error = %v", err)
	}
	defer stream.Cancel()
	snap, err := stream.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !snap.Exists {
		t.Fatal("profile document missing after provider sign-in")
	}
	wantFields := map[string]any{"displayName": "Gina", "email": "gina@example.com"}
	if diff := cmp.Diff(snap.Fields, wantFields); diff != "" {
		t.Error(diff)
	}
}

func TestSignInWithProvider_FailureKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	m := NewManager(st, testPaths, "")
	if err := m.Resolve(ctx); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	before := m.Identity()

	err := m.SignInWithProvider(ctx, "google.com", "unknown")
	if !errors.Is(err, store.ErrInvalidToken) {
		t.Fatalf("SignInWithProvider() error = %v, want %v", err, store.ErrInvalidToken)
	}
	if got := m.Identity(); got != before {
		t.Errorf("Identity() = %+v, want unchanged %+v", got, before)
	}
}

func TestSignInWithProvider_ProfileWriteFailureDoesNotBlockSignIn(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	st.RegisterAccount("google.com", "assertion-1", store.Session{UID: "g1", DisplayName: "Gina"})
	m := NewManager(st, testPaths, "")
	if err := m.Resolve(ctx); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	st.SetWriteError(errors.New("write refused"))

	if err := m.SignInWithProvider(ctx, "google.com", "assertion-1"); err != nil {
		t.Fatalf("SignInWithProvider() error = %v", err)
	}
	if got := m.Identity(); !got.Federated() {
		t.Errorf("Identity() = %+v, want federated", got)
	}
}

func TestOnChange_NotifiesAndUnsubscribes(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemStore(), testPaths, "")

	calls := 0
	unsubscribe := m.OnChange(func() { calls++ })

	if err := m.Resolve(ctx); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("listener ran %d times, want 1", calls)
	}

	unsubscribe()
	if err := m.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("listener ran %d times after unsubscribe, want 1", calls)
	}
}
