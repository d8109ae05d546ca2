package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docedit/docedit/internal/document"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepo implements a MongoDB-backed repository for documents.
// Documents are keyed by their string "id" field, with a unique index on it;
// Mongo's own _id is left to the driver.
type MongoRepo struct {
	col *mongo.Collection
	now func() time.Time
}

func NewMongoRepo(ctx context.Context, col *mongo.Collection) (*MongoRepo, error) {
	idxModel := mongo.IndexModel{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)}
	if _, err := col.Indexes().CreateOne(ctx, idxModel); err != nil {
		return nil, fmt.Errorf("create id index: %w", err)
	}
	updatedIdx := mongo.IndexModel{Keys: bson.D{{Key: "updatedAt", Value: -1}}}
	if _, err := col.Indexes().CreateOne(ctx, updatedIdx); err != nil {
		return nil, fmt.Errorf("create updatedAt index: %w", err)
	}
	return &MongoRepo{col: col, now: document.Now}, nil
}

func (m *MongoRepo) Create(ctx context.Context, d *document.Document) (*document.Document, error) {
	doc := clone(d)
	document.Stamp(doc, m.now())
	if _, err := m.col.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (m *MongoRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	var d document.Document
	err := m.col.FindOne(ctx, bson.M{"id": id}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	return &d, nil
}

func (m *MongoRepo) List(ctx context.Context) ([]*document.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cur, err := m.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer cur.Close(ctx)
	out := []*document.Document{}
	for cur.Next(ctx) {
		var d document.Document
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, &d)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return out, nil
}

// Update merges the patch atomically. The previous updatedAt is needed to keep
// timestamps strictly increasing, so the write is conditioned on it and retried
// when another writer got in between.
func (m *MongoRepo) Update(ctx context.Context, id string, p document.Patch) (*document.Document, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next := clone(cur)
		p.Apply(next, m.now())
		set := bson.M{"updatedAt": next.UpdatedAt}
		if p.Title != nil {
			set["title"] = next.Title
		}
		if p.Content != nil {
			set["content"] = next.Content
		}
		filter := bson.M{"id": id, "updatedAt": cur.UpdatedAt}
		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		var out document.Document
		err = m.col.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&out)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update document: %w", err)
		}
		return &out, nil
	}
}

func (m *MongoRepo) Delete(ctx context.Context, id string) (*document.Document, error) {
	var d document.Document
	err := m.col.FindOneAndDelete(ctx, bson.M{"id": id}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("delete document: %w", err)
	}
	return &d, nil
}
