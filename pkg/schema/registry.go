package schema

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/askdb-io/askdb-engine/pkg/apperrors"
	"github.com/askdb-io/askdb-engine/pkg/endpoint"
	"github.com/askdb-io/askdb-engine/pkg/logging"
	"github.com/askdb-io/askdb-engine/pkg/pool"
)

// DefaultTTL is the snapshot freshness window when none is configured.
const DefaultTTL = 24 * time.Hour

// Store persists snapshots keyed by dbKey.
type Store interface {
	Get(ctx context.Context, dbKey string) (*Snapshot, error)
	Put(ctx context.Context, snap *Snapshot) error
}

// MongoStore keeps snapshots in the system store's schema_registry
// collection, one document per dbKey.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore creates the snapshot store over the system database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection("schema_registry")}
}

func (s *MongoStore) Get(ctx context.Context, dbKey string) (*Snapshot, error) {
	var snap Snapshot
	err := s.coll.FindOne(ctx, bson.M{"_id": dbKey}).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &snap, nil
}

func (s *MongoStore) Put(ctx context.Context, snap *Snapshot) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": snap.DBKey}, snap,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

var _ Store = (*MongoStore)(nil)

// Introspector produces a snapshot payload from a live handle.
type Introspector interface {
	Detect(ctx context.Context, h *pool.Handle) (payload string, totals int, err error)
}

// Registry serves snapshots with TTL freshness, coalescing concurrent
// rebuilds for the same dbKey. Introspection failures degrade to an empty
// snapshot so the pipeline continues without schema context.
type Registry struct {
	store    Store
	detector Introspector
	ttl      time.Duration
	group    singleflight.Group
	logger   *zap.Logger
	now      func() time.Time
}

// NewRegistry creates the schema registry.
func NewRegistry(store Store, detector Introspector, ttl time.Duration, logger *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		store:    store,
		detector: detector,
		ttl:      ttl,
		logger:   logger.Named("schema.registry"),
		now:      time.Now,
	}
}

// GetOrBuild returns a snapshot for the endpoint: the cached one when fresh
// and not forced, otherwise a rebuild via introspection. Never returns nil;
// a failed build yields an empty-payload snapshot after logging a warning.
func (r *Registry) GetOrBuild(ctx context.Context, ep endpoint.Endpoint, h *pool.Handle, force bool) *Snapshot {
	key := ep.Key()

	if !force {
		if snap := r.lookup(ctx, key); snap != nil {
			return snap
		}
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if !force {
			// A concurrent flight may have refreshed the entry already.
			if snap := r.lookup(ctx, key); snap != nil {
				return snap, nil
			}
		}
		return r.build(ctx, key, ep, h)
	})
	if err != nil {
		r.logger.Warn("schema build failed, continuing with empty schema",
			zap.String("dbKey", key),
			zap.String("endpoint", ep.Redacted()),
			zap.String("reason", logging.SanitizeError(err)))
		return &Snapshot{DBKey: key, Kind: ep.Kind, Payload: "[]", LastBuilt: r.now()}
	}
	return v.(*Snapshot)
}

func (r *Registry) lookup(ctx context.Context, key string) *Snapshot {
	snap, err := r.store.Get(ctx, key)
	if err != nil {
		r.logger.Warn("snapshot load failed", zap.String("dbKey", key), zap.Error(err))
		return nil
	}
	if snap != nil && snap.Fresh(r.now(), r.ttl) {
		return snap
	}
	return nil
}

func (r *Registry) build(ctx context.Context, key string, ep endpoint.Endpoint, h *pool.Handle) (*Snapshot, error) {
	payload, totals, err := r.detector.Detect(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrSchemaBuild, logging.SanitizeError(err))
	}

	snap := &Snapshot{
		DBKey:     key,
		Kind:      ep.Kind,
		Payload:   payload,
		Totals:    totals,
		LastBuilt: r.now(),
	}
	// Persistence failure never blocks the request; the snapshot is still
	// served from this flight.
	if err := r.store.Put(ctx, snap); err != nil {
		r.logger.Warn("snapshot persistence failed", zap.String("dbKey", key), zap.Error(err))
	}

	r.logger.Info("schema snapshot built",
		zap.String("dbKey", key),
		zap.String("kind", string(ep.Kind)),
		zap.Int("totals", totals))
	return snap, nil
}
