package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/inkwell/client/internal/feed"
	"github.com/inkwell/client/internal/models"
	"github.com/inkwell/client/internal/store"
	"github.com/inkwell/client/internal/view"
)

var testPaths = store.Paths{AppID: "testapp"}

// waitFor blocks until cond holds for the app state, re-checking after every
// state change notification.
func waitFor(t *testing.T, a *App, cond func(State) bool) State {
	t.Helper()
	changed := make(chan struct{}, 1)
	unsubscribe := a.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	deadline := time.After(2 * time.Second)
	for {
		st := a.State()
		if cond(st) {
			return st
		}
		select {
		case <-changed:
		case <-deadline:
			t.Fatalf("timed out waiting for state, last: %+v", st)
		}
	}
}

func newSeededApp(t *testing.T) (*App, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	st.SeedSession(store.Session{UID: "u-main", DisplayName: "Main Author", Email: "main@example.com"})
	a := New(st, Options{AppID: "testapp"})
	a.Start(context.Background())
	t.Cleanup(a.Close)
	return a, st
}

func newAnonApp(t *testing.T) (*App, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	a := New(st, Options{AppID: "testapp"})
	a.Start(context.Background())
	t.Cleanup(a.Close)
	return a, st
}

func TestStart_SeededSessionLandsOnHome(t *testing.T) {
	a, _ := newSeededApp(t)

	st := waitFor(t, a, func(st State) bool {
		return st.Ready && st.ProfileLoaded && !st.PostsLoading
	})
	if st.Screen != view.ScreenHome {
		t.Errorf("Screen = %q, want %q", st.Screen, view.ScreenHome)
	}
	wantIdentity := models.Federated("u-main", "Main Author", "main@example.com")
	if st.Identity != wantIdentity {
		t.Errorf("Identity = %+v, want %+v", st.Identity, wantIdentity)
	}
	// the missing profile document was created with identity defaults
	wantProfile := models.Profile{UID: "u-main", DisplayName: "Main Author", Email: "main@example.com"}
	if diff := cmp.Diff(st.Profile, wantProfile); diff != "" {
		t.Error(diff)
	}
	if len(st.Posts) != 0 {
		t.Errorf("Posts has %d entries, want 0", len(st.Posts))
	}
}

func TestStart_ColdStartShowsSignIn(t *testing.T) {
	a, _ := newAnonApp(t)

	st := waitFor(t, a, func(st State) bool {
		return st.Ready && !st.PostsLoading
	})
	if st.Screen != view.ScreenSignIn {
		t.Errorf("Screen = %q, want %q", st.Screen, view.ScreenSignIn)
	}
	if st.Identity.Kind != models.IdentityAnonymous {
		t.Errorf("Identity.Kind = %q, want %q", st.Identity.Kind, models.IdentityAnonymous)
	}
	if st.Identity.UID == "" {
		t.Error("expected non-empty anonymous UID")
	}
}

func TestCreatePost_AppearsInFeedNewestFirst(t *testing.T) {
	a, st := newSeededApp(t)
	ctx := context.Background()
	waitFor(t, a, func(st State) bool { return st.Ready && st.ProfileLoaded })

	t0 := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return t0 })
	if err := a.CreatePost(ctx, models.CreatePostRequest{Title: "First", Content: "one"}); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	st.SetClock(func() time.Time { return t0.Add(time.Hour) })
	if err := a.CreatePost(ctx, models.CreatePostRequest{Title: "Second", Content: "two"}); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}

	got := waitFor(t, a, func(st State) bool { return len(st.Posts) == 2 })
	titles := []string{got.Posts[0].Title, got.Posts[1].Title}
	if diff := cmp.Diff(titles, []string{"Second", "First"}); diff != "" {
		t.Error(diff)
	}
	if got.Posts[0].AuthorID != "u-main" {
		t.Errorf("AuthorID = %q, want %q", got.Posts[0].AuthorID, "u-main")
	}
	if got.Posts[0].AuthorName != "Main Author" {
		t.Errorf("AuthorName = %q, want %q", got.Posts[0].AuthorName, "Main Author")
	}
	if got.Posts[0].Pending() {
		t.Error("post still pending, want server-assigned createdAt")
	}
	if got.Screen != view.ScreenHome {
		t.Errorf("Screen = %q, want %q", got.Screen, view.ScreenHome)
	}
}

func TestCreatePost_ValidationFault(t *testing.T) {
	a, _ := newSeededApp(t)
	waitFor(t, a, func(st State) bool { return st.Ready })

	err := a.CreatePost(context.Background(), models.CreatePostRequest{})
	var verr models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("CreatePost() error = %T, want models.ValidationError", err)
	}
	st := a.State()
	if st.Fault.Kind != models.FaultWrite {
		t.Errorf("Fault.Kind = %q, want %q", st.Fault.Kind, models.FaultWrite)
	}
	if !st.Fault.Present() {
		t.Error("Fault.Present() = false, want true")
	}

	a.NavigateHome()
	if st := a.State(); st.Fault.Present() {
		t.Errorf("Fault after NavigateHome = %+v, want cleared", st.Fault)
	}
}

func TestCreatePost_WriteFailure(t *testing.T) {
	a, st := newSeededApp(t)
	waitFor(t, a, func(st State) bool { return st.Ready })

	boom := errors.New("write refused")
	st.SetWriteError(boom)
	err := a.CreatePost(context.Background(), models.CreatePostRequest{Title: "T", Content: "C"})
	if !errors.Is(err, boom) {
		t.Fatalf("CreatePost() error = %v, want %v", err, boom)
	}
	got := a.State()
	if got.Fault.Kind != models.FaultWrite {
		t.Errorf("Fault.Kind = %q, want %q", got.Fault.Kind, models.FaultWrite)
	}
	if len(got.Posts) != 0 {
		t.Errorf("Posts has %d entries, want 0", len(got.Posts))
	}
}

func TestCreatePost_RequiresFederatedIdentity(t *testing.T) {
	a, _ := newAnonApp(t)
	waitFor(t, a, func(st State) bool { return st.Ready })

	err := a.CreatePost(context.Background(), models.CreatePostRequest{Title: "T", Content: "C"})
	if !errors.Is(err, store.ErrNotSignedIn) {
		t.Errorf("CreatePost() error = %v, want %v", err, store.ErrNotSignedIn)
	}
}

func TestSelectPost_ShowsCommentsOldestFirst(t *testing.T) {
	a, st := newSeededApp(t)
	ctx := context.Background()
	waitFor(t, a, func(st State) bool { return st.Ready && st.ProfileLoaded })

	if err := a.CreatePost(ctx, models.CreatePostRequest{Title: "Post", Content: "body"}); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	got := waitFor(t, a, func(st State) bool { return len(st.Posts) == 1 })
	postID := got.Posts[0].ID

	a.SelectPost(postID)
	got = waitFor(t, a, func(st State) bool { return !st.CommentsLoading })
	if got.Screen != view.ScreenPost {
		t.Errorf("Screen = %q, want %q", got.Screen, view.ScreenPost)
	}
	if got.SelectedPostID != postID {
		t.Errorf("SelectedPostID = %q, want %q", got.SelectedPostID, postID)
	}

	t0 := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return t0 })
	if err := a.AddComment(ctx, models.CreateCommentRequest{Text: "first"}); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	st.SetClock(func() time.Time { return t0.Add(time.Minute) })
	if err := a.AddComment(ctx, models.CreateCommentRequest{Text: "second"}); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}

	got = waitFor(t, a, func(st State) bool { return len(st.Comments) == 2 })
	texts := []string{got.Comments[0].Text, got.Comments[1].Text}
	if diff := cmp.Diff(texts, []string{"first", "second"}); diff != "" {
		t.Error(diff)
	}
	if got.Comments[0].Pending() {
		t.Error("comment still pending, want server-assigned createdAt")
	}
}

func TestSelectPost_EmptyIDGoesHome(t *testing.T) {
	a, _ := newSeededApp(t)
	waitFor(t, a, func(st State) bool { return st.Ready })

	a.SelectPost("")
	st := a.State()
	if st.Screen != view.ScreenHome {
		t.Errorf("Screen = %q, want %q", st.Screen, view.ScreenHome)
	}
	if st.SelectedPostID != "" {
		t.Errorf("SelectedPostID = %q, want empty", st.SelectedPostID)
	}
}

func TestAddComment_RequiresSelection(t *testing.T) {
	a, _ := newSeededApp(t)
	waitFor(t, a, func(st State) bool { return st.Ready })

	err := a.AddComment(context.Background(), models.CreateCommentRequest{Text: "hello"})
	if !errors.Is(err, feed.ErrNotSubscribed) {
		t.Fatalf("AddComment() error = %v, want %v", err, feed.ErrNotSubscribed)
	}
	if st := a.State(); st.Fault.Kind != models.FaultWrite {
		t.Errorf("Fault.Kind = %q, want %q", st.Fault.Kind, models.FaultWrite)
	}
}

func TestNavigateHome_ClearsSelectionAndFault(t *testing.T) {
	a, st := newSeededApp(t)
	ctx := context.Background()
	waitFor(t, a, func(st State) bool { return st.Ready && st.ProfileLoaded })

	if err := a.CreatePost(ctx, models.CreatePostRequest{Title: "Post", Content: "body"}); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	got := waitFor(t, a, func(st State) bool { return len(st.Posts) == 1 })
	a.SelectPost(got.Posts[0].ID)

	st.SetWriteError(errors.New("write refused"))
	if err := a.AddComment(ctx, models.CreateCommentRequest{Text: "nope"}); err == nil {
		t.Fatal("AddComment() succeeded, want error")
	}
	if got := a.State(); !got.Fault.Present() {
		t.Fatal("expected a visible fault before navigating")
	}

	a.NavigateHome()
	got = a.State()
	if got.Fault.Present() {
		t.Errorf("Fault = %+v, want cleared", got.Fault)
	}
	if got.SelectedPostID != "" {
		t.Errorf("SelectedPostID = %q, want empty", got.SelectedPostID)
	}
	if got.Screen != view.ScreenHome {
		t.Errorf("Screen = %q, want %q", got.Screen, view.ScreenHome)
	}
	if len(got.Comments) != 0 {
		t.Errorf("Comments has %d entries, want 0", len(got.Comments))
	}
}

func TestNavigateProfile_ShowsProfileScreen(t *testing.T) {
	a, _ := newSeededApp(t)
	waitFor(t, a, func(st State) bool { return st.Ready })

	a.NavigateProfile()
	if st := a.State(); st.Screen != view.ScreenProfile {
		t.Errorf("Screen = %q, want %q", st.Screen, view.ScreenProfile)
	}
}

func TestSignOut_ReturnsToSignInKeepingPosts(t *testing.T) {
	a, _ := newSeededApp(t)
	ctx := context.Background()
	waitFor(t, a, func(st State) bool { return st.Ready && st.ProfileLoaded })

	if err := a.CreatePost(ctx, models.CreatePostRequest{Title: "Kept", Content: "body"}); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	waitFor(t, a, func(st State) bool { return len(st.Posts) == 1 })

	if err := a.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	st := a.State()
	if st.Screen != view.ScreenSignIn {
		t.Errorf("Screen = %q, want %q", st.Screen, view.ScreenSignIn)
	}
	if st.Identity.Kind != models.IdentityAnonymous {
		t.Errorf("Identity.Kind = %q, want %q", st.Identity.Kind, models.IdentityAnonymous)
	}
	if len(st.Posts) != 1 {
		t.Errorf("Posts has %d entries after sign-out, want 1", len(st.Posts))
	}
}

func TestSignInWithGoogle_Succeeds(t *testing.T) {
	a, st := newAnonApp(t)
	ctx := context.Background()
	waitFor(t, a, func(st State) bool { return st.Ready })

	st.RegisterAccount("google.com", "good-assertion", store.Session{UID: "fed-1", DisplayName: "Fiona", Email: "fiona@example.com"})
	if err := a.SignInWithGoogle(ctx, "good-assertion"); err != nil {
		t.Fatalf("SignInWithGoogle() error = %v", err)
	}

	got := waitFor(t, a, func(st State) bool { return st.ProfileLoaded })
	if got.Screen != view.ScreenHome {
		t.Errorf("Screen = %q, want %q", got.Screen, view.ScreenHome)
	}
	wantIdentity := models.Federated("fed-1", "Fiona", "fiona@example.com")
	if got.Identity != wantIdentity {
		t.Errorf("Identity = %+v, want %+v", got.Identity, wantIdentity)
	}
	if got.Profile.DisplayName != "Fiona" {
		t.Errorf("Profile.DisplayName = %q, want %q", got.Profile.DisplayName, "Fiona")
	}
}

func TestSignInWithGoogle_FailureKeepsAnonymousSession(t *testing.T) {
	a, _ := newAnonApp(t)
	ctx := context.Background()
	before := waitFor(t, a, func(st State) bool { return st.Ready })

	err := a.SignInWithGoogle(ctx, "bad-assertion")
	if err == nil {
		t.Fatal("SignInWithGoogle() succeeded, want error")
	}
	st := a.State()
	if st.Fault.Kind != models.FaultAuthentication {
		t.Errorf("Fault.Kind = %q, want %q", st.Fault.Kind, models.FaultAuthentication)
	}
	if st.Identity != before.Identity {
		t.Errorf("Identity = %+v, want unchanged %+v", st.Identity, before.Identity)
	}
	if st.Screen != view.ScreenSignIn {
		t.Errorf("Screen = %q, want %q", st.Screen, view.ScreenSignIn)
	}
}

func TestUpdateDisplayName_ReflectsInProfileAndAuthorship(t *testing.T) {
	a, _ := newSeededApp(t)
	ctx := context.Background()
	waitFor(t, a, func(st State) bool { return st.Ready && st.ProfileLoaded })

	if err := a.UpdateDisplayName(ctx, "Renamed"); err != nil {
		t.Fatalf("UpdateDisplayName() error = %v", err)
	}
	waitFor(t, a, func(st State) bool { return st.Profile.DisplayName == "Renamed" })

	if err := a.CreatePost(ctx, models.CreatePostRequest{Title: "Post", Content: "body"}); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	got := waitFor(t, a, func(st State) bool { return len(st.Posts) == 1 })
	if got.Posts[0].AuthorName != "Renamed" {
		t.Errorf("AuthorName = %q, want %q", got.Posts[0].AuthorName, "Renamed")
	}
}

func TestUpdateDisplayName_RequiresFederatedIdentity(t *testing.T) {
	a, _ := newAnonApp(t)
	waitFor(t, a, func(st State) bool { return st.Ready })

	err := a.UpdateDisplayName(context.Background(), "Name")
	if !errors.Is(err, store.ErrNotSignedIn) {
		t.Errorf("UpdateDisplayName() error = %v, want %v", err, store.ErrNotSignedIn)
	}
}

func TestPostsSubscriptionFailure_ShowsFaultKeepsList(t *testing.T) {
	a, st := newSeededApp(t)
	ctx := context.Background()
	waitFor(t, a, func(st State) bool { return st.Ready && st.ProfileLoaded })

	if err := a.CreatePost(ctx, models.CreatePostRequest{Title: "Kept", Content: "body"}); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	waitFor(t, a, func(st State) bool { return len(st.Posts) == 1 })

	st.FailSubscribers(testPaths.Posts(), errors.New("watch aborted"))
	got := waitFor(t, a, func(st State) bool { return st.Fault.Present() })
	if got.Fault.Kind != models.FaultSubscription {
		t.Errorf("Fault.Kind = %q, want %q", got.Fault.Kind, models.FaultSubscription)
	}
	if len(got.Posts) != 1 {
		t.Errorf("Posts has %d entries after stream failure, want 1", len(got.Posts))
	}
	if got.PostsLoading {
		t.Error("PostsLoading = true, want false")
	}
}
