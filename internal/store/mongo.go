package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stellarlinkco/circlebot/internal/circle"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.trai.ch/zerr"
)

const mongoConnectTimeout = 10 * time.Second

// Mongo reads and writes circle documents in one collection.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetConnectTimeout(mongoConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	return &Mongo{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}, nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *Mongo) ListAll(ctx context.Context) ([]circle.Circle, error) {
	cur, err := m.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, circle.Upstream(err, "find circles")
	}
	var out []circle.Circle
	// All drains and closes the cursor; any decode error discards the page.
	if err := cur.All(ctx, &out); err != nil {
		return nil, circle.Upstream(err, "decode circles")
	}
	return out, nil
}

func (m *Mongo) Insert(ctx context.Context, c circle.Circle) error {
	if c.SubChannels == nil {
		c.SubChannels = []string{}
	}
	if _, err := m.coll.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return zerr.With(circle.Upstream(err, "insert circle: duplicate id"), "circle_id", c.ID)
		}
		return zerr.With(circle.Upstream(err, "insert circle"), "circle_id", c.ID)
	}
	return nil
}

func (m *Mongo) Update(ctx context.Context, id string, patch circle.Patch) (circle.Circle, error) {
	if patch.Empty() {
		var current circle.Circle
		err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&current)
		return current, m.mapSingleErr(err, id, "load circle")
	}

	var updated circle.Circle
	err := m.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		patchUpdate(patch),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		return circle.Circle{}, m.mapSingleErr(err, id, "update circle")
	}
	return updated, nil
}

func (m *Mongo) Delete(ctx context.Context, id string) error {
	res, err := m.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return circle.Upstream(err, "delete circle")
	}
	if res.DeletedCount == 0 {
		return circle.Upstream(zerr.With(zerr.Wrap(circle.ErrNotFound, "delete circle"), "circle_id", id), "delete circle")
	}
	return nil
}

func (m *Mongo) mapSingleErr(err error, id, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return circle.Upstream(zerr.With(zerr.Wrap(circle.ErrNotFound, op), "circle_id", id), op)
	}
	return circle.Upstream(err, op)
}

// patchUpdate builds the $set document for the display fields in patch.
func patchUpdate(patch circle.Patch) bson.M {
	set := bson.M{}
	for k, v := range patch.Fields() {
		set[k] = v
	}
	return bson.M{"$set": set}
}
