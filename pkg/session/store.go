package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// sessionExpiry is the storage-level TTL applied from lastActivity.
const sessionExpiry = 30 * 24 * time.Hour

// Store persists sessions and their messages. GetSession returns nil, nil
// when the session does not exist.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	SaveSession(ctx context.Context, s *Session) error
	ListSessions(ctx context.Context, userID string) ([]*Session, error)
	CountUserSessions(ctx context.Context, userID string) (int64, error)
	DeleteSession(ctx context.Context, sessionID string) error
	InsertMessage(ctx context.Context, msg *ChatMessage) error
	ListMessages(ctx context.Context, sessionID string, limit int64) ([]*ChatMessage, error)
	MarkIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// MongoStore keeps sessions in chat_sessions and messages in chat_messages.
type MongoStore struct {
	sessions *mongo.Collection
	messages *mongo.Collection
}

// NewMongoStore creates the session store over the system database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		sessions: db.Collection("chat_sessions"),
		messages: db.Collection("chat_messages"),
	}
}

// EnsureIndexes creates the lookup indexes and the storage-level expiry.
// Sessions are removed by the database once lastActivity is older than the
// expiry window; the idle sweep is a separate, softer mechanism.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "lastActivity", Value: -1}}},
		{
			Keys:    bson.D{{Key: "lastActivity", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(sessionExpiry.Seconds())),
		},
	})
	if err != nil {
		return fmt.Errorf("create chat_sessions indexes: %w", err)
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "sessionId", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create chat_messages index: %w", err)
	}
	return nil
}

func (s *MongoStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	err := s.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&sess)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &sess, nil
}

func (s *MongoStore) SaveSession(ctx context.Context, sess *Session) error {
	_, err := s.sessions.ReplaceOne(ctx, bson.M{"_id": sess.ID}, sess,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *MongoStore) ListSessions(ctx context.Context, userID string) ([]*Session, error) {
	cur, err := s.sessions.Find(ctx, bson.M{"userId": userID},
		options.Find().SetSort(bson.D{{Key: "lastActivity", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer cur.Close(ctx)

	var out []*Session
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return out, nil
}

func (s *MongoStore) CountUserSessions(ctx context.Context, userID string) (int64, error) {
	n, err := s.sessions.CountDocuments(ctx, bson.M{"userId": userID})
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func (s *MongoStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.sessions.DeleteOne(ctx, bson.M{"_id": sessionID}); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if _, err := s.messages.DeleteMany(ctx, bson.M{"sessionId": sessionID}); err != nil {
		return fmt.Errorf("delete session messages: %w", err)
	}
	return nil
}

func (s *MongoStore) InsertMessage(ctx context.Context, msg *ChatMessage) error {
	res, err := s.messages.InsertOne(ctx, msg)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		msg.ID = oid
	}
	return nil
}

func (s *MongoStore) ListMessages(ctx context.Context, sessionID string, limit int64) ([]*ChatMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.messages.Find(ctx, bson.M{"sessionId": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cur.Close(ctx)

	var out []*ChatMessage
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return out, nil
}

// MarkIdle flips active sessions whose lastActivity is older than cutoff to
// inactive, returning how many were touched.
func (s *MongoStore) MarkIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.sessions.UpdateMany(ctx,
		bson.M{"active": true, "lastActivity": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{"active": false}})
	if err != nil {
		return 0, fmt.Errorf("mark idle sessions: %w", err)
	}
	return res.ModifiedCount, nil
}

var _ Store = (*MongoStore)(nil)
