package dictionary

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"riskcfg/pkg/metrics"
	"riskcfg/pkg/migrations"
)

type Repository interface {
	ListEnabled(ctx context.Context) ([]Item, error)
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(migrations.DictionaryCollection),
	}
}

func (r *MongoRepository) ListEnabled(ctx context.Context) ([]Item, error) {
	start := time.Now()
	filter := bson.M{"enabled": true}
	opts := options.Find().SetSort(bson.D{{Key: "dict_type", Value: 1}, {Key: "sort", Value: 1}, {Key: "code", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		metrics.ObserveDatabaseQuery("mongodb", "dict_list", start, err)
		return nil, fmt.Errorf("failed to find dictionary items: %w", err)
	}
	defer cursor.Close(ctx)

	var items []Item
	err = cursor.All(ctx, &items)
	metrics.ObserveDatabaseQuery("mongodb", "dict_list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to decode dictionary items: %w", err)
	}
	return items, nil
}

// Upsert stores item keyed by (dict_type, code).
func (r *MongoRepository) Upsert(ctx context.Context, item Item) error {
	filter := bson.M{"dict_type": item.DictType, "code": item.Code}
	update := bson.M{"$set": item}
	if _, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert dictionary item %s/%s: %w", item.DictType, item.Code, err)
	}
	return nil
}
