package implementation

import (
	"context"
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
	interfaces "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Interfaces"
)

const (
	thresholdsCollection = "thresholds"
	eventsCollection     = "triggered_events"
)

var newestThresholdFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

// MongoThresholdRepository needs a replica set: replaces run in a
// multi-document transaction, serialized in-process by mu.
type MongoThresholdRepository struct {
	db   *mongo.Database
	coll *mongo.Collection
	mu   sync.Mutex
}

func NewMongoThresholdRepository(db *mongo.Database) *MongoThresholdRepository {
	return &MongoThresholdRepository{db: db, coll: db.Collection(thresholdsCollection)}
}

func (r *MongoThresholdRepository) GetCurrent(ctx context.Context) (*iowmodels.Threshold, error) {
	opts := options.FindOne().SetSort(newestThresholdFirst)

	var t iowmodels.Threshold
	if err := r.coll.FindOne(ctx, bson.D{}, opts).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, interfaces.WrapStorage("get current threshold", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func (r *MongoThresholdRepository) History(ctx context.Context, limit int) ([]iowmodels.Threshold, error) {
	opts := options.Find().SetSort(newestThresholdFirst).SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, interfaces.WrapStorage("list thresholds", err)
	}
	defer cursor.Close(ctx)

	thresholds := []iowmodels.Threshold{}
	if err := cursor.All(ctx, &thresholds); err != nil {
		return nil, interfaces.WrapStorage("decode thresholds", err)
	}
	for i := range thresholds {
		thresholds[i].CreatedAt = thresholds[i].CreatedAt.UTC()
	}
	return thresholds, nil
}

func (r *MongoThresholdRepository) Delete(ctx context.Context, id string) error {
	result, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return interfaces.WrapStorage("delete threshold", err)
	}
	if result.DeletedCount == 0 {
		return interfaces.NotFoundf("threshold %s", id)
	}
	return nil
}

func (r *MongoThresholdRepository) WithinTx(ctx context.Context, fn func(tx interfaces.ThresholdTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.db.Client().StartSession()
	if err != nil {
		return interfaces.WrapStorage("start threshold session", err)
	}
	defer session.EndSession(ctx)

	var fnErr error
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		fnErr = fn(&mongoThresholdTx{coll: r.coll, sc: sc})
		return nil, fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return interfaces.WrapStorage("commit threshold transaction", err)
}

type mongoThresholdTx struct {
	coll *mongo.Collection
	sc   mongo.SessionContext
}

// DeleteAll and Insert run on the session context so they join the transaction
func (t *mongoThresholdTx) DeleteAll(ctx context.Context) error {
	_, err := t.coll.DeleteMany(t.sc, bson.D{})
	return interfaces.WrapStorage("delete thresholds", err)
}

func (t *mongoThresholdTx) Insert(ctx context.Context, threshold iowmodels.Threshold) error {
	_, err := t.coll.InsertOne(t.sc, threshold)
	return interfaces.WrapStorage("insert threshold", err)
}

type MongoEventRepository struct {
	coll *mongo.Collection
}

func NewMongoEventRepository(db *mongo.Database) *MongoEventRepository {
	return &MongoEventRepository{coll: db.Collection(eventsCollection)}
}

func (r *MongoEventRepository) Append(ctx context.Context, event iowmodels.TriggeredEvent) error {
	_, err := r.coll.InsertOne(ctx, event)
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return interfaces.WrapStorage("append triggered event", err)
}

func (r *MongoEventRepository) Page(ctx context.Context, offset, limit int) ([]iowmodels.TriggeredEvent, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "recorded_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, interfaces.WrapStorage("page triggered events", err)
	}
	defer cursor.Close(ctx)

	events := []iowmodels.TriggeredEvent{}
	if err := cursor.All(ctx, &events); err != nil {
		return nil, interfaces.WrapStorage("decode triggered events", err)
	}
	for i := range events {
		events[i].RecordedAt = events[i].RecordedAt.UTC()
	}
	return events, nil
}

// EnsureMongoIndexes creates the sort indexes used by History and Page
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(thresholdsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: newestThresholdFirst})
	if err != nil {
		return interfaces.WrapStorage("create threshold index", err)
	}
	_, err = db.Collection(eventsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "recorded_at", Value: -1}, {Key: "_id", Value: -1}},
	})
	return interfaces.WrapStorage("create event index", err)
}

var (
	_ interfaces.ThresholdRepository = (*MongoThresholdRepository)(nil)
	_ interfaces.EventRepository     = (*MongoEventRepository)(nil)
)
