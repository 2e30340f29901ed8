package message

import (
	"context"
	"errors"
	"fmt"

	"dm_chat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	MessageRepo struct {
		collection *mongo.Collection
	}
)

var _ Repository = (*MessageRepo)(nil)

func NewMessageRepo(db *mongo.Database) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection("messages"),
	}
}

// EnsureIndexes creates the (conversation_key, logical_ts) index that serves every conversation read.
func (r *MessageRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_key", Value: 1}, {Key: "logical_ts", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *MessageRepo) Insert(ctx context.Context, m *model.Message) error {
	if _, err := r.collection.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("message %d at %s/%d already stored: %w", m.ID, m.ConversationKey, m.LogicalTimestamp, err)
		}
		return err
	}
	return nil
}

func (r *MessageRepo) List(ctx context.Context, conversationKey string, after, upTo int64, limit int) ([]*model.Message, error) {
	ts := bson.M{"$gt": after}
	if upTo > 0 {
		ts["$lte"] = upTo
	}
	filter := bson.M{
		"conversation_key": conversationKey,
		"logical_ts":       ts,
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "logical_ts", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	res := []*model.Message{}
	if err := cur.All(ctx, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *MessageRepo) Head(ctx context.Context, conversationKey string) (int64, error) {
	filter := bson.M{
		"conversation_key": conversationKey,
	}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "logical_ts", Value: -1}}).
		SetProjection(bson.M{"logical_ts": 1})

	var m model.Message
	err := r.collection.FindOne(ctx, filter, opts).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.LogicalTimestamp, nil
}

func (r *MessageRepo) MaxID(ctx context.Context) (int64, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetProjection(bson.M{"_id": 1})

	var m model.Message
	err := r.collection.FindOne(ctx, bson.M{}, opts).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.ID, nil
}

func (r *MessageRepo) Heads(ctx context.Context) (map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$conversation_key"},
			{Key: "head", Value: bson.D{{Key: "$max", Value: "$logical_ts"}}},
		}}},
	}

	cur, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	heads := make(map[string]int64)
	for cur.Next(ctx) {
		var row struct {
			Key  string `bson:"_id"`
			Head int64  `bson:"head"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		heads[row.Key] = row.Head
	}
	return heads, cur.Err()
}
