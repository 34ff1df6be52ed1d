package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DictionaryCollection = "dict_items"

// EnsureDictionaryIndexes creates the dictionary collection indexes. Existing indexes are left alone.
func EnsureDictionaryIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "dict_type", Value: 1}, {Key: "code", Value: 1}},
			Options: options.Index().SetName("uq_dict_items_type_code").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "dict_type", Value: 1}, {Key: "sort", Value: 1}},
			Options: options.Index().SetName("idx_dict_items_type_sort"),
		},
	}

	_, err := db.Collection(DictionaryCollection).Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
