package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/golang-jwt/jwt/v5"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// FirestoreStore is the production RemoteStore. Documents live in Cloud
// Firestore; sign-in goes through the Identity Toolkit REST surface using
// the project's web API key, matching how a browser client authenticates.
type FirestoreStore struct {
	sessionHolder

	client *firestore.Client
	auth   *identitytoolkit.RelyingpartyService
}

type FirestoreConfig struct {
	ProjectID       string
	APIKey          string
	CredentialsJSON string
}

func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore: project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: init app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore: init client: %w", err)
	}
	var auth *identitytoolkit.RelyingpartyService
	if cfg.APIKey != "" {
		svc, err := identitytoolkit.NewService(ctx, option.WithAPIKey(cfg.APIKey))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("firestore: init identity service: %w", err)
		}
		auth = svc.Relyingparty
	}
	return &FirestoreStore{client: client, auth: auth}, nil
}

func (f *FirestoreStore) SignInWithToken(ctx context.Context, token string) (Session, error) {
	if f.auth == nil {
		return Session{}, fmt.Errorf("firestore: identity service is not configured")
	}
	resp, err := f.auth.VerifyCustomToken(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyCustomTokenRequest{
		Token:             token,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return Session{}, fmt.Errorf("firestore: verify custom token: %w", err)
	}
	s := sessionFromToken(resp.IdToken)
	if s.UID == "" {
		return Session{}, ErrInvalidToken
	}
	if name, email := f.accountInfo(ctx, resp.IdToken); name != "" || email != "" {
		if s.DisplayName == "" {
			s.DisplayName = name
		}
		if s.Email == "" {
			s.Email = email
		}
	}
	return f.adopt(s), nil
}

func (f *FirestoreStore) SignInAnonymously(ctx context.Context) (Session, error) {
	if f.auth == nil {
		return Session{}, fmt.Errorf("firestore: identity service is not configured")
	}
	resp, err := f.auth.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{}).Context(ctx).Do()
	if err != nil {
		return Session{}, fmt.Errorf("firestore: anonymous sign-in: %w", err)
	}
	s := sessionFromToken(resp.IdToken)
	if s.UID == "" {
		s.UID = resp.LocalId
	}
	s.Anonymous = true
	return f.adopt(s), nil
}

func (f *FirestoreStore) SignInWithProvider(ctx context.Context, provider, assertion string) (Session, error) {
	if f.auth == nil {
		return Session{}, fmt.Errorf("firestore: identity service is not configured")
	}
	resp, err := f.auth.VerifyAssertion(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest{
		PostBody:          fmt.Sprintf("id_token=%s&providerId=%s", assertion, provider),
		RequestUri:        "http://localhost",
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return Session{}, fmt.Errorf("firestore: provider sign-in: %w", err)
	}
	s := sessionFromToken(resp.IdToken)
	if s.UID == "" {
		s.UID = resp.LocalId
	}
	if s.Email == "" {
		s.Email = resp.Email
	}
	if s.DisplayName == "" {
		s.DisplayName = resp.DisplayName
	}
	return f.adopt(s), nil
}

func (f *FirestoreStore) SubscribeDocument(ctx context.Context, path string) (DocumentStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	return &firestoreDocStream{
		ctx:    ctx,
		cancel: cancel,
		it:     f.client.Doc(path).Snapshots(ctx),
	}, nil
}

func (f *FirestoreStore) SubscribeCollection(ctx context.Context, path string) (CollectionStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	return &firestoreColStream{
		ctx:    ctx,
		cancel: cancel,
		it:     f.client.Collection(path).Snapshots(ctx),
	}, nil
}

func (f *FirestoreStore) WriteDocument(ctx context.Context, path string, fields map[string]any, merge bool) error {
	var opts []firestore.SetOption
	if merge {
		opts = append(opts, firestore.MergeAll)
	}
	if _, err := f.client.Doc(path).Set(ctx, resolveTimestamps(fields), opts...); err != nil {
		return fmt.Errorf("firestore: write %s: %w", path, err)
	}
	return nil
}

func (f *FirestoreStore) AppendDocument(ctx context.Context, path string, fields map[string]any) (string, error) {
	ref, _, err := f.client.Collection(path).Add(ctx, resolveTimestamps(fields))
	if err != nil {
		return "", fmt.Errorf("firestore: append to %s: %w", path, err)
	}
	return ref.ID, nil
}

func (f *FirestoreStore) Close() error {
	return f.client.Close()
}

// accountInfo fetches the profile attached to an ID token. Failures degrade
// to an empty profile; the session is already established at this point.
func (f *FirestoreStore) accountInfo(ctx context.Context, idToken string) (displayName, email string) {
	resp, err := f.auth.GetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartyGetAccountInfoRequest{
		IdToken: idToken,
	}).Context(ctx).Do()
	if err != nil || len(resp.Users) == 0 {
		return "", ""
	}
	return resp.Users[0].DisplayName, resp.Users[0].Email
}

// resolveTimestamps maps the package's ServerTimestamp sentinel onto the
// Firestore one.
func resolveTimestamps(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if v == ServerTimestamp {
			out[k] = firestore.ServerTimestamp
			continue
		}
		out[k] = v
	}
	return out
}

// sessionFromToken decodes the identity a freshly minted JWT describes. The
// token just came from the identity service over TLS, so its signature is
// not re-verified here.
func sessionFromToken(token string) Session {
	var s Session
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return s
	}
	for _, key := range []string{"user_id", "uid", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			s.UID = v
			break
		}
	}
	if v, ok := claims["email"].(string); ok {
		s.Email = v
	}
	if v, ok := claims["name"].(string); ok {
		s.DisplayName = v
	}
	if v, ok := claims["provider_id"].(string); ok && v == "anonymous" {
		s.Anonymous = true
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.Expiry = exp.Time
	}
	return s
}

type firestoreDocStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	it     *firestore.DocumentSnapshotIterator
}

func (s *firestoreDocStream) Next() (DocumentSnapshot, error) {
	snap, err := s.it.Next()
	if err != nil {
		if err == iterator.Done || s.ctx.Err() != nil {
			return DocumentSnapshot{}, ErrCancelled
		}
		return DocumentSnapshot{}, fmt.Errorf("firestore: document listen: %w", err)
	}
	if !snap.Exists() {
		return DocumentSnapshot{}, nil
	}
	return DocumentSnapshot{Exists: true, Fields: snap.Data()}, nil
}

func (s *firestoreDocStream) Cancel() {
	s.cancel()
	s.it.Stop()
}

type firestoreColStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	it     *firestore.QuerySnapshotIterator
}

func (s *firestoreColStream) Next() (CollectionSnapshot, error) {
	qsnap, err := s.it.Next()
	if err != nil {
		if err == iterator.Done || s.ctx.Err() != nil {
			return CollectionSnapshot{}, ErrCancelled
		}
		return CollectionSnapshot{}, fmt.Errorf("firestore: collection listen: %w", err)
	}
	docs, err := qsnap.Documents.GetAll()
	if err != nil {
		if s.ctx.Err() != nil {
			return CollectionSnapshot{}, ErrCancelled
		}
		return CollectionSnapshot{}, fmt.Errorf("firestore: read snapshot: %w", err)
	}
	snap := CollectionSnapshot{Docs: make([]Document, 0, len(docs))}
	for _, d := range docs {
		snap.Docs = append(snap.Docs, Document{ID: d.Ref.ID, Fields: d.Data()})
	}
	return snap, nil
}

func (s *firestoreColStream) Cancel() {
	s.cancel()
	s.it.Stop()
}
