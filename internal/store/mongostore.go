package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const pollInterval = 2 * time.Second

// MongoStore is an alternate RemoteStore for deployments that run on MongoDB
// instead of Firestore. Every document lives in one collection keyed by its
// full path, with its parent path indexed for collection queries. Live
// subscriptions ride change streams where the server supports them and fall
// back to polling on standalone servers.
//
// Sign-in trusts the JWTs handed to it as transported; minting and verifying
// them belongs to the deployment's own tooling.
type MongoStore struct {
	sessionHolder

	client *mongo.Client
	docs   *mongo.Collection
}

type mongoDoc struct {
	Path   string `bson:"_id"`
	Parent string `bson:"parent"`
	Fields bson.M `bson:"fields"`
}

func NewMongoStore(ctx context.Context, mongoURI, dbName string) (*MongoStore, error) {
	opts := options.Client().ApplyURI(mongoURI)
	if strings.HasPrefix(mongoURI, "mongodb+srv://") {
		// TLS 1.2 pin for Atlas SRV deployments.
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS12,
		})
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	docs := client.Database(dbName).Collection("documents")

	// Best-effort index.
	_, _ = docs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "parent", Value: 1}},
	})

	return &MongoStore{client: client, docs: docs}, nil
}

func (s *MongoStore) SignInWithToken(ctx context.Context, token string) (Session, error) {
	sess := sessionFromToken(token)
	if sess.UID == "" {
		return Session{}, ErrInvalidToken
	}
	return s.adopt(sess), nil
}

func (s *MongoStore) SignInAnonymously(ctx context.Context) (Session, error) {
	return s.adopt(Session{UID: uuid.NewString(), Anonymous: true}), nil
}

func (s *MongoStore) SignInWithProvider(ctx context.Context, provider, assertion string) (Session, error) {
	sess := sessionFromToken(assertion)
	if sess.UID == "" {
		return Session{}, ErrInvalidToken
	}
	return s.adopt(sess), nil
}

func (s *MongoStore) SubscribeDocument(ctx context.Context, path string) (DocumentStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	box := newDocMailbox(cancel)
	go s.watchDocument(ctx, box, path)
	return box, nil
}

func (s *MongoStore) SubscribeCollection(ctx context.Context, path string) (CollectionStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	box := newColMailbox(cancel)
	go s.watchCollection(ctx, box, path)
	return box, nil
}

func (s *MongoStore) WriteDocument(ctx context.Context, path string, fields map[string]any, merge bool) error {
	if merge {
		return s.writeMerge(ctx, path, fields)
	}
	doc := mongoDoc{Path: path, Parent: parentPath(path), Fields: bson.M{}}
	// Replace writes resolve the timestamp sentinel client-side.
	for k, v := range fields {
		if v == ServerTimestamp {
			doc.Fields[k] = time.Now().UTC()
			continue
		}
		doc.Fields[k] = v
	}
	_, err := s.docs.ReplaceOne(ctx, bson.M{"_id": path}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: write %s: %w", path, err)
	}
	return nil
}

func (s *MongoStore) AppendDocument(ctx context.Context, path string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.writeMerge(ctx, path+"/"+id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// writeMerge upserts fields into the document at path. ServerTimestamp
// fields go through $currentDate so the database assigns the write time.
func (s *MongoStore) writeMerge(ctx context.Context, path string, fields map[string]any) error {
	sets := bson.M{"parent": parentPath(path)}
	dates := bson.M{}
	for k, v := range fields {
		if v == ServerTimestamp {
			dates["fields."+k] = true
			continue
		}
		sets["fields."+k] = v
	}
	update := bson.M{"$set": sets}
	if len(dates) > 0 {
		update["$currentDate"] = dates
	}
	_, err := s.docs.UpdateOne(ctx, bson.M{"_id": path}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: write %s: %w", path, err)
	}
	return nil
}

func (s *MongoStore) documentSnapshot(ctx context.Context, path string) (DocumentSnapshot, error) {
	var doc mongoDoc
	err := s.docs.FindOne(ctx, bson.M{"_id": path}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return DocumentSnapshot{}, nil
	}
	if err != nil {
		return DocumentSnapshot{}, fmt.Errorf("mongo: get %s: %w", path, err)
	}
	return DocumentSnapshot{Exists: true, Fields: doc.fieldMap()}, nil
}

func (s *MongoStore) collectionSnapshot(ctx context.Context, path string) (CollectionSnapshot, error) {
	cur, err := s.docs.Find(ctx, bson.M{"parent": path})
	if err != nil {
		return CollectionSnapshot{}, fmt.Errorf("mongo: find %s: %w", path, err)
	}
	defer cur.Close(ctx)
	var snap CollectionSnapshot
	for cur.Next(ctx) {
		var doc mongoDoc
		if err := cur.Decode(&doc); err != nil {
			return CollectionSnapshot{}, fmt.Errorf("mongo: decode document: %w", err)
		}
		snap.Docs = append(snap.Docs, Document{ID: docID(doc.Path), Fields: doc.fieldMap()})
	}
	if err := cur.Err(); err != nil {
		return CollectionSnapshot{}, fmt.Errorf("mongo: find %s: %w", path, err)
	}
	sort.Slice(snap.Docs, func(i, j int) bool { return snap.Docs[i].ID < snap.Docs[j].ID })
	return snap, nil
}

func (s *MongoStore) watchDocument(ctx context.Context, box *docMailbox, path string) {
	last, err := s.documentSnapshot(ctx, path)
	if err != nil {
		if ctx.Err() == nil {
			box.fail(err)
		}
		return
	}
	box.deliver(last)

	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.D{
		{Key: "documentKey._id", Value: path},
	}}}}
	cs, err := s.docs.Watch(ctx, pipeline)
	if err != nil {
		// Change streams need a replica set; standalone servers poll.
		s.pollDocument(ctx, box, path, last)
		return
	}
	defer cs.Close(context.Background())
	for cs.Next(ctx) {
		snap, err := s.documentSnapshot(ctx, path)
		if err != nil {
			if ctx.Err() == nil {
				box.fail(err)
			}
			return
		}
		if reflect.DeepEqual(snap, last) {
			continue
		}
		last = snap
		box.deliver(snap)
	}
	if ctx.Err() == nil && cs.Err() != nil {
		box.fail(fmt.Errorf("mongo: change stream %s: %w", path, cs.Err()))
	}
}

func (s *MongoStore) watchCollection(ctx context.Context, box *colMailbox, path string) {
	last, err := s.collectionSnapshot(ctx, path)
	if err != nil {
		if ctx.Err() == nil {
			box.fail(err)
		}
		return
	}
	box.deliver(last)

	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.D{
		{Key: "documentKey._id", Value: primitive.Regex{
			Pattern: "^" + regexp.QuoteMeta(path) + "/[^/]+$",
		}},
	}}}}
	cs, err := s.docs.Watch(ctx, pipeline)
	if err != nil {
		s.pollCollection(ctx, box, path, last)
		return
	}
	defer cs.Close(context.Background())
	for cs.Next(ctx) {
		snap, err := s.collectionSnapshot(ctx, path)
		if err != nil {
			if ctx.Err() == nil {
				box.fail(err)
			}
			return
		}
		if reflect.DeepEqual(snap, last) {
			continue
		}
		last = snap
		box.deliver(snap)
	}
	if ctx.Err() == nil && cs.Err() != nil {
		box.fail(fmt.Errorf("mongo: change stream %s: %w", path, cs.Err()))
	}
}

func (s *MongoStore) pollDocument(ctx context.Context, box *docMailbox, path string, last DocumentSnapshot) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		snap, err := s.documentSnapshot(ctx, path)
		if err != nil {
			if ctx.Err() == nil {
				box.fail(err)
			}
			return
		}
		if reflect.DeepEqual(snap, last) {
			continue
		}
		last = snap
		box.deliver(snap)
	}
}

func (s *MongoStore) pollCollection(ctx context.Context, box *colMailbox, path string, last CollectionSnapshot) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		snap, err := s.collectionSnapshot(ctx, path)
		if err != nil {
			if ctx.Err() == nil {
				box.fail(err)
			}
			return
		}
		if reflect.DeepEqual(snap, last) {
			continue
		}
		last = snap
		box.deliver(snap)
	}
}

// fieldMap converts stored BSON values back to the field types the rest of
// the app reads, in particular BSON datetimes to time.Time.
func (d mongoDoc) fieldMap() map[string]any {
	out := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		if dt, ok := v.(primitive.DateTime); ok {
			out[k] = dt.Time().UTC()
			continue
		}
		out[k] = v
	}
	return out
}
