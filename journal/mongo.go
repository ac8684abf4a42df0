package journal

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DefaultCollection = "orders"

type MongoRecorder struct {
	coll *mongo.Collection
}

func NewMongoRecorder(db *mongo.Database, collection string) *MongoRecorder {
	if collection == "" {
		collection = DefaultCollection
	}
	return &MongoRecorder{coll: db.Collection(collection)}
}

// EnsureIndex makes (orderId, action) unique, so replays are dropped.
func (r *MongoRecorder) EnsureIndex(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "orderId", Value: 1}, {Key: "action", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.Wrap(err, "create order index")
}

func (r *MongoRecorder) Record(ctx context.Context, e Event) error {
	if _, err := r.coll.InsertOne(ctx, e); err != nil && !isDuplicateError(err) {
		return errors.Wrap(err, "insert order event")
	}
	return nil
}

func isDuplicateError(err error) bool {
	var e mongo.WriteException
	if !errors.As(err, &e) {
		return false
	}
	return e.WriteConcernError == nil && len(e.WriteErrors) == 1 && e.WriteErrors[0].Code == 11000
}
