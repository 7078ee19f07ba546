package catalog

import (
	"context"
	"errors"
	"regexp"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const productCollection = "products"

// MongoStore persists products in a MongoDB collection. The unique sku
// index created by EnsureIndexes is what arbitrates concurrent creates.
type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(client *mongo.Client, db string) *MongoStore {
	return &MongoStore{col: client.Database(db).Collection(productCollection)}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	return withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "sku", Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		return err
	})
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return withTimeout(ctx, pingTimeout, func(ctx context.Context) error {
		return s.col.Database().Client().Ping(ctx, nil)
	})
}

func (s *MongoStore) Create(ctx context.Context, draft Product) (Product, error) {
	if err := validateDraft(draft); err != nil {
		return Product{}, err
	}

	draft.ID = "p_" + uuid.NewString()
	if draft.Images == nil {
		draft.Images = []string{}
	}

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		_, err := s.col.InsertOne(ctx, draft)
		return err
	})
	if mongo.IsDuplicateKeyError(err) {
		return Product{}, ErrDuplicateSKU
	}
	if err != nil {
		return Product{}, err
	}
	return draft, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (Product, bool, error) {
	var p Product

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		return s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Product{}, false, nil
	}
	if err != nil {
		return Product{}, false, err
	}
	return p, true, nil
}

func (s *MongoStore) List(ctx context.Context) ([]Product, error) {
	return s.find(ctx, bson.M{})
}

func (s *MongoStore) Search(ctx context.Context, term string) ([]Product, error) {
	re := primitive.Regex{Pattern: regexp.QuoteMeta(term), Options: "i"}
	return s.find(ctx, bson.M{"$or": []bson.M{
		{"name": re},
		{"description": re},
	}})
}

func (s *MongoStore) find(ctx context.Context, filter bson.M) ([]Product, error) {
	out := make([]Product, 0)

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		cur, err := s.col.Find(ctx, filter)
		if err != nil {
			return err
		}
		return cur.All(ctx, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) Update(ctx context.Context, id string, u ProductUpdate) (Product, bool, error) {
	if err := validateUpdate(u); err != nil {
		return Product{}, false, err
	}

	set := bson.M{}
	if u.SKU != nil {
		set["sku"] = *u.SKU
	}
	if u.Name != nil {
		set["name"] = *u.Name
	}
	if u.Description != nil {
		set["description"] = *u.Description
	}
	if u.Quantity != nil {
		set["quantity"] = *u.Quantity
	}
	if u.ImagePolicy == ReplaceAllImages {
		images := u.Images
		if images == nil {
			images = []string{}
		}
		set["images"] = images
	}

	if len(set) == 0 {
		return s.Get(ctx, id)
	}

	var p Product
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		return s.col.FindOneAndUpdate(ctx,
			bson.M{"_id": id},
			bson.M{"$set": set},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&p)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Product{}, false, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return Product{}, false, ErrDuplicateSKU
	}
	if err != nil {
		return Product{}, false, err
	}
	return p, true, nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) (bool, error) {
	var deleted int64

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		res, err := s.col.DeleteOne(ctx, bson.M{"_id": id})
		if err != nil {
			return err
		}
		deleted = res.DeletedCount
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}
