package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zero "github.com/rs/zerolog/log"

	"github.com/inkwell/client/internal/app"
	"github.com/inkwell/client/internal/config"
	"github.com/inkwell/client/internal/store"
)

func main() {
	godotenv.Load()
	zero.Logger = zero.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()
	ctx := context.Background()

	st, persist, err := openStore(ctx, cfg)
	if err != nil {
		zero.Fatal().Err(err).Msg("store initialization failed")
	}
	defer st.Close()

	a := app.New(st, app.Options{
		AppID:          cfg.AppID,
		BootstrapToken: cfg.InitialAuthToken,
		WriteTimeout:   cfg.WriteTimeout,
	})

	// Headless render loop: log each state transition. The channel holds one
	// pending wakeup, so bursts of changes collapse into the latest state.
	changes := make(chan struct{}, 1)
	unsubscribe := a.OnChange(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()
	go func() {
		for range changes {
			render(a.State())
		}
	}()

	a.Start(ctx)

	if cfg.GoogleIDToken != "" {
		if err := a.SignInWithGoogle(ctx, cfg.GoogleIDToken); err != nil {
			zero.Warn().Err(err).Msg("configured google sign-in failed")
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	zero.Info().Msg("shutting down")
	a.Close()
	if persist != nil {
		persist()
	}
}

// openStore picks the backend: Firestore when a project is configured,
// MongoDB when a connection string is set, otherwise an in-memory store
// seeded with demo content. The returned persist function, when non-nil,
// saves the store's contents and is called on shutdown.
func openStore(ctx context.Context, cfg *config.Config) (store.RemoteStore, func(), error) {
	if cfg.FirebaseProjectID != "" {
		st, err := store.NewFirestoreStore(ctx, store.FirestoreConfig{
			ProjectID:       cfg.FirebaseProjectID,
			APIKey:          cfg.FirebaseAPIKey,
			CredentialsJSON: cfg.FirebaseCredentialsJSON,
		})
		if err != nil {
			return nil, nil, err
		}
		zero.Info().Str("project", cfg.FirebaseProjectID).Msg("store: firestore")
		return st, nil, nil
	}
	if cfg.MongoURI != "" {
		st, err := store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		zero.Info().Str("db", cfg.MongoDatabase).Msg("store: mongodb")
		return st, nil, nil
	}
	return openDemoStore(cfg)
}

// openDemoStore builds the in-memory store, restoring the previous run's
// snapshot when one exists and seeding starter content otherwise.
func openDemoStore(cfg *config.Config) (store.RemoteStore, func(), error) {
	m := store.NewMemStore()
	m.SeedSession(store.Session{
		UID:         "demo-user",
		DisplayName: "Demo Author",
		Email:       "demo@example.com",
	})

	snap, err := store.NewSnapshotFile(cfg.DataDir, "demo.json")
	if err != nil {
		zero.Warn().Err(err).Str("dir", cfg.DataDir).Msg("demo snapshot unavailable, data will not survive restarts")
		seedDemo(m, store.Paths{AppID: cfg.AppID})
		zero.Info().Msg("store: in-memory demo mode")
		return m, nil, nil
	}

	restored := false
	docs, err := snap.Load()
	switch {
	case err != nil:
		zero.Warn().Err(err).Msg("demo snapshot load failed")
	case len(docs) > 0:
		m.ImportDocs(docs)
		restored = true
		zero.Info().Int("documents", len(docs)).Msg("demo snapshot restored")
	}
	if !restored {
		seedDemo(m, store.Paths{AppID: cfg.AppID})
	}

	persist := func() {
		if err := snap.Save(m.ExportDocs()); err != nil {
			zero.Warn().Err(err).Msg("demo snapshot save failed")
			return
		}
		zero.Info().Msg("demo snapshot saved")
	}
	zero.Info().Msg("store: in-memory demo mode")
	return m, persist, nil
}

// seedDemo fills the in-memory store with a few posts so the app has
// something to show without a backend.
func seedDemo(m *store.MemStore, paths store.Paths) {
	ctx := context.Background()
	now := time.Now().UTC()
	posts := []map[string]any{
		{
			"title":      "Welcome to Inkwell",
			"content":    "This instance runs against the in-memory store. Writes are live and snapshot to disk on exit.",
			"authorId":   "demo-user",
			"authorName": "Demo Author",
			"createdAt":  now.Add(-48 * time.Hour),
		},
		{
			"title":      "Subscriptions in practice",
			"content":    "Open a post to watch its comments stream in; everything on screen is pushed, never polled.",
			"authorId":   "demo-user",
			"authorName": "Demo Author",
			"createdAt":  now.Add(-2 * time.Hour),
		},
	}
	for _, fields := range posts {
		id, err := m.AppendDocument(ctx, paths.Posts(), fields)
		if err != nil {
			zero.Warn().Err(err).Msg("demo seed write failed")
			continue
		}
		_, _ = m.AppendDocument(ctx, paths.Comments(id), map[string]any{
			"text":       "First!",
			"authorId":   "demo-user",
			"authorName": "Demo Author",
			"createdAt":  now.Add(-1 * time.Hour),
		})
	}
}

func render(st app.State) {
	ev := zero.Info().
		Str("screen", string(st.Screen)).
		Str("identity", string(st.Identity.Kind)).
		Int("posts", len(st.Posts)).
		Int("comments", len(st.Comments))
	if st.SelectedPostID != "" {
		ev = ev.Str("selected", st.SelectedPostID)
	}
	if st.Fault.Present() {
		ev = ev.Str("fault", st.Fault.Message)
	}
	ev.Msg("state")
}
