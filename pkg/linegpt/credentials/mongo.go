package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	mongoCollection = "api_key"
	mongoDocID      = "credentials"
)

// credentialsDoc is the single document holding the whole mapping.
type credentialsDoc struct {
	ID        string            `bson:"_id"`
	Tokens    map[string]string `bson:"tokens"`
	UpdatedAt time.Time         `bson:"updated_at"`
}

// MongoStore keeps the mapping in one MongoDB document, so each Save is a
// single atomic UpdateOne.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

// OpenMongo connects to uri and verifies the connection.
func OpenMongo(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if database == "" {
		database = "linegpt"
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("credentials: connecting to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("credentials: pinging mongo: %w", err)
	}

	logger.Info("connected to mongo", "database", database)

	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(mongoCollection),
		logger: logger,
	}, nil
}

// Load reads the credentials document.
func (s *MongoStore) Load(ctx context.Context) (map[string]string, error) {
	var doc credentialsDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": mongoDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: find: %w", err)
	}
	if doc.Tokens == nil {
		doc.Tokens = map[string]string{}
	}
	return doc.Tokens, nil
}

// Save sets every pair on the document in one upserting update.
func (s *MongoStore) Save(ctx context.Context, partial map[string]string) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	for id, token := range partial {
		set["tokens."+id] = token
	}

	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": mongoDocID},
		bson.M{"$set": set},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("credentials: update: %w", err)
	}

	s.logger.Debug("credentials saved", "identities", len(partial))
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
