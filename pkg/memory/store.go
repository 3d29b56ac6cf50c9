package memory

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store persists records and profiles. Atomicity is per single record.
type Store interface {
	InsertRecord(ctx context.Context, rec *Record) error
	SetFeedback(ctx context.Context, recordID, feedback string) error
	CountSimilar(ctx context.Context, userID, dbKey, patternLabel string) (int64, error)
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	SaveProfile(ctx context.Context, p *Profile) error
}

// MongoStore keeps records in memory_records and profiles in user_profiles.
type MongoStore struct {
	records  *mongo.Collection
	profiles *mongo.Collection
}

// NewMongoStore creates the memory store over the system database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		records:  db.Collection("memory_records"),
		profiles: db.Collection("user_profiles"),
	}
}

// EnsureIndexes creates the userId+timestamp lookup index for records.
// Profiles are keyed by user id directly.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.records.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create memory_records index: %w", err)
	}
	return nil
}

func (s *MongoStore) InsertRecord(ctx context.Context, rec *Record) error {
	res, err := s.records.InsertOne(ctx, rec)
	if err != nil {
		return fmt.Errorf("insert memory record: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		rec.ID = oid
	}
	return nil
}

func (s *MongoStore) SetFeedback(ctx context.Context, recordID, feedback string) error {
	oid, err := primitive.ObjectIDFromHex(recordID)
	if err != nil {
		return fmt.Errorf("invalid record id %q", recordID)
	}
	res, err := s.records.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"feedback": feedback}})
	if err != nil {
		return fmt.Errorf("set feedback: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("memory record %s not found", recordID)
	}
	return nil
}

func (s *MongoStore) CountSimilar(ctx context.Context, userID, dbKey, patternLabel string) (int64, error) {
	n, err := s.records.CountDocuments(ctx, bson.M{
		"userId":       userID,
		"dbKey":        dbKey,
		"patternLabel": patternLabel,
	})
	if err != nil {
		return 0, fmt.Errorf("count similar records: %w", err)
	}
	return n, nil
}

func (s *MongoStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	err := s.profiles.FindOne(ctx, bson.M{"_id": userID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return &p, nil
}

func (s *MongoStore) SaveProfile(ctx context.Context, p *Profile) error {
	_, err := s.profiles.ReplaceOne(ctx, bson.M{"_id": p.UserID}, p,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

var _ Store = (*MongoStore)(nil)
