// Package app orchestrates the client: one session manager, one profile
// synchronizer, two collection synchronizers, and the navigation and fault
// state the renderer reads. Every user action enters here, and every remote
// change flows back in through a synchronizer sink.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/inkwell/client/internal/feed"
	"github.com/inkwell/client/internal/models"
	"github.com/inkwell/client/internal/profile"
	"github.com/inkwell/client/internal/session"
	"github.com/inkwell/client/internal/store"
	"github.com/inkwell/client/internal/view"
)

type Options struct {
	// AppID namespaces all store paths.
	AppID string

	// BootstrapToken, when set, is offered during identity resolution.
	BootstrapToken string

	// WriteTimeout bounds every write and sign-in call. Defaults to 10s.
	WriteTimeout time.Duration
}

// State is what the renderer reads. Slices are shared with the app and must
// be treated as read-only.
type State struct {
	Ready           bool
	Identity        models.Identity
	Profile         models.Profile
	ProfileLoaded   bool
	Posts           []models.Post
	PostsLoading    bool
	Comments        []models.Comment
	CommentsLoading bool
	SelectedPostID  string
	Target          view.Target
	Screen          view.Screen
	Fault           models.Fault
}

type App struct {
	store    store.RemoteStore
	paths    store.Paths
	session  *session.Manager
	profile  *profile.Synchronizer
	posts    *feed.Synchronizer
	comments *feed.Synchronizer

	writeTimeout time.Duration

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	mu          sync.Mutex
	st          State
	postsActive bool
	nextSub     int64
	listeners   map[int64]func()
}

func New(st store.RemoteStore, opts Options) *App {
	paths := store.Paths{AppID: opts.AppID}
	a := &App{
		store:        st,
		paths:        paths,
		writeTimeout: opts.WriteTimeout,
		listeners:    make(map[int64]func()),
	}
	if a.writeTimeout <= 0 {
		a.writeTimeout = 10 * time.Second
	}
	a.session = session.NewManager(st, paths, opts.BootstrapToken)
	a.profile = profile.New(st, paths, profileSink{a})
	a.posts = feed.New(st, feed.NewestFirst, func(string) string { return paths.Posts() }, postsSink{a})
	a.comments = feed.New(st, feed.OldestFirst, paths.Comments, commentsSink{a})
	a.st.Identity = models.Unauthenticated()
	a.st.Target = view.TargetHome
	return a
}

// Start resolves the starting identity and begins synchronization. The app
// stays interactive whatever resolution yields; a total sign-in failure
// shows up as a fault on the sign-in screen, never as a crash.
func (a *App) Start(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.unsubscribe = a.session.OnChange(a.identityChanged)
	if err := a.session.Resolve(a.ctx); err != nil {
		log.Error().Err(err).Msg("identity resolution failed")
		a.setFault(models.FaultAuthentication, err)
	}
}

// Close stops all subscriptions. The store itself belongs to the caller.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.comments.Clear()
	a.posts.Clear()
	a.profile.Deactivate()
	log.Info().Msg("app closed")
}

// State returns a snapshot of the current app state.
func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.st
	st.Screen = view.Resolve(st.Ready, st.Identity, st.Target, st.SelectedPostID)
	return st
}

// OnChange registers fn to run after every state change. The returned
// function removes the registration.
func (a *App) OnChange(fn func()) func() {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.listeners[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// SignInWithGoogle exchanges a Google ID token for a federated session. On
// failure the current identity stands and the fault is shown.
func (a *App) SignInWithGoogle(ctx context.Context, assertion string) error {
	ctx, cancel := context.WithTimeout(ctx, a.writeTimeout)
	defer cancel()
	if err := a.session.SignInWithProvider(ctx, "google.com", assertion); err != nil {
		log.Error().Err(err).Msg("google sign-in failed")
		a.setFault(models.FaultAuthentication, err)
		return err
	}
	return nil
}

// SignOut drops the federated session and lands on a fresh anonymous one.
func (a *App) SignOut(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.writeTimeout)
	defer cancel()
	if err := a.session.SignOut(ctx); err != nil {
		log.Error().Err(err).Msg("sign-out failed")
		a.setFault(models.FaultAuthentication, err)
		return err
	}
	return nil
}

// UpdateDisplayName merge-writes a new display name into the profile. The
// visible profile updates when the echo snapshot arrives.
func (a *App) UpdateDisplayName(ctx context.Context, name string) error {
	if err := a.requireFederated(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, a.writeTimeout)
	defer cancel()
	if err := a.profile.UpdateDisplayName(ctx, models.UpdateProfileRequest{DisplayName: name}); err != nil {
		log.Error().Err(err).Msg("display name update failed")
		a.setFault(models.FaultWrite, err)
		return err
	}
	return nil
}

// CreatePost appends a post authored by the current identity and navigates
// home once the append is acknowledged. The post shows up in the list only
// when the next snapshot carries it.
func (a *App) CreatePost(ctx context.Context, req models.CreatePostRequest) error {
	if err := a.requireFederated(); err != nil {
		return err
	}
	if errs := req.Validate(); len(errs) > 0 {
		err := models.ValidationError(errs)
		a.setFault(models.FaultWrite, err)
		return err
	}
	id, name := a.author()
	ctx, cancel := context.WithTimeout(ctx, a.writeTimeout)
	defer cancel()
	_, err := a.posts.Append(ctx, map[string]any{
		"title":      req.Title,
		"content":    req.Content,
		"authorId":   id.UID,
		"authorName": name,
	})
	if err != nil {
		log.Error().Err(err).Msg("post create failed")
		a.setFault(models.FaultWrite, err)
		return err
	}
	a.NavigateHome()
	return nil
}

// AddComment appends a comment to the selected post.
func (a *App) AddComment(ctx context.Context, req models.CreateCommentRequest) error {
	if err := a.requireFederated(); err != nil {
		return err
	}
	if errs := req.Validate(); len(errs) > 0 {
		err := models.ValidationError(errs)
		a.setFault(models.FaultWrite, err)
		return err
	}
	id, name := a.author()
	ctx, cancel := context.WithTimeout(ctx, a.writeTimeout)
	defer cancel()
	_, err := a.comments.Append(ctx, map[string]any{
		"text":       req.Text,
		"authorId":   id.UID,
		"authorName": name,
	})
	if err != nil {
		log.Error().Err(err).Msg("comment create failed")
		a.setFault(models.FaultWrite, err)
		return err
	}
	return nil
}

// SelectPost makes postID the selection, re-keys the comment subscription,
// and switches to the post screen. The previous comment subscription is
// cancelled before the new one starts.
func (a *App) SelectPost(postID string) {
	if postID == "" {
		a.NavigateHome()
		return
	}
	a.mu.Lock()
	a.st.SelectedPostID = postID
	a.st.Target = view.TargetPost
	a.st.Comments = nil
	a.st.CommentsLoading = true
	a.st.Fault = models.Fault{}
	ctx := a.ctx
	a.mu.Unlock()
	a.comments.SetKey(ctx, postID)
	a.broadcast()
}

// NavigateHome shows the post list. Clearing the selection tears down the
// comment subscription; any visible fault is dismissed.
func (a *App) NavigateHome() {
	a.mu.Lock()
	a.st.SelectedPostID = ""
	a.st.Target = view.TargetHome
	a.st.CommentsLoading = false
	a.st.Fault = models.Fault{}
	a.mu.Unlock()
	a.comments.Clear()
	a.broadcast()
}

// NavigateProfile shows the profile editor.
func (a *App) NavigateProfile() {
	a.mu.Lock()
	a.st.Target = view.TargetProfile
	a.st.Fault = models.Fault{}
	a.mu.Unlock()
	a.broadcast()
}

// identityChanged reacts to session transitions: it rebinds the profile
// synchronizer to the new identity, starts the post feed once a signed-in
// identity exists, and tears everything down if the session is lost.
func (a *App) identityChanged() {
	ready := a.session.Ready()
	id := a.session.Identity()

	a.mu.Lock()
	prev := a.st.Identity
	a.st.Ready = ready
	a.st.Identity = id
	rebindProfile := ready && id.SignedIn() && id != prev
	subscribePosts := ready && id.SignedIn() && !a.postsActive
	if subscribePosts {
		a.postsActive = true
		a.st.PostsLoading = true
	}
	teardown := ready && !id.SignedIn()
	if teardown {
		a.postsActive = false
	}
	ctx := a.ctx
	a.mu.Unlock()

	if teardown {
		// cancel first: once Deactivate/Clear return, no late delivery can
		// repopulate the state cleared below
		a.profile.Deactivate()
		a.posts.Clear()
		a.comments.Clear()
		a.mu.Lock()
		a.st.Profile = models.Profile{}
		a.st.ProfileLoaded = false
		a.st.SelectedPostID = ""
		a.st.PostsLoading = false
		a.st.CommentsLoading = false
		a.mu.Unlock()
	} else {
		if rebindProfile {
			a.mu.Lock()
			a.st.Profile = models.Profile{}
			a.st.ProfileLoaded = false
			a.mu.Unlock()
			a.profile.Activate(ctx, id)
		}
		if subscribePosts {
			a.posts.SetKey(ctx, "")
		}
	}
	a.broadcast()
}

func (a *App) author() (models.Identity, string) {
	a.mu.Lock()
	id := a.st.Identity
	name := a.st.Profile.DisplayName
	a.mu.Unlock()
	if name == "" {
		name = id.ProfileName()
	}
	return id, name
}

func (a *App) requireFederated() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.st.Identity.Federated() {
		return store.ErrNotSignedIn
	}
	return nil
}

func (a *App) setFault(kind models.FaultKind, err error) {
	a.mu.Lock()
	a.st.Fault = models.NewFault(kind, err.Error())
	a.mu.Unlock()
	a.broadcast()
}

func (a *App) broadcast() {
	a.mu.Lock()
	fns := make([]func(), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type profileSink struct{ a *App }

func (s profileSink) ProfileChanged(p models.Profile) {
	s.a.mu.Lock()
	s.a.st.Profile = p
	s.a.st.ProfileLoaded = true
	s.a.mu.Unlock()
	s.a.broadcast()
}

func (s profileSink) ProfileFailed(err error) {
	kind := models.FaultSubscription
	if errors.Is(err, profile.ErrCreateFailed) {
		kind = models.FaultWrite
	}
	s.a.setFault(kind, err)
}

type postsSink struct{ a *App }

func (s postsSink) CollectionChanged(docs []store.Document) {
	posts := make([]models.Post, 0, len(docs))
	for _, d := range docs {
		posts = append(posts, models.PostFromFields(d.ID, d.Fields))
	}
	s.a.mu.Lock()
	s.a.st.Posts = posts
	s.a.st.PostsLoading = false
	s.a.mu.Unlock()
	s.a.broadcast()
}

func (s postsSink) CollectionFailed(err error) {
	s.a.mu.Lock()
	s.a.st.PostsLoading = false
	s.a.mu.Unlock()
	s.a.setFault(models.FaultSubscription, err)
}

type commentsSink struct{ a *App }

func (s commentsSink) CollectionChanged(docs []store.Document) {
	comments := make([]models.Comment, 0, len(docs))
	for _, d := range docs {
		comments = append(comments, models.CommentFromFields(d.ID, d.Fields))
	}
	s.a.mu.Lock()
	s.a.st.Comments = comments
	s.a.st.CommentsLoading = false
	s.a.mu.Unlock()
	s.a.broadcast()
}

func (s commentsSink) CollectionFailed(err error) {
	s.a.mu.Lock()
	s.a.st.CommentsLoading = false
	s.a.mu.Unlock()
	s.a.setFault(models.FaultSubscription, err)
}
