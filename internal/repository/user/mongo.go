package user

import (
	"context"
	"errors"
	"time"

	"dm_chat/internal/errs"
	"dm_chat/internal/model"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	UserRepo struct {
		collection *mongo.Collection
	}
)

var _ Repository = (*UserRepo)(nil)

func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
	}
}

// EnsureIndexes creates the unique external key index the upsert relies on.
func (r *UserRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "external_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "name", Value: 1}},
		},
	})
	return err
}

func (r *UserRepo) Upsert(ctx context.Context, externalKey string, profile model.Profile) (*model.User, error) {
	user, err := r.upsert(ctx, externalKey, profile)
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent upsert inserted the same key first; this attempt now matches it.
		user, err = r.upsert(ctx, externalKey, profile)
	}
	return user, err
}

func (r *UserRepo) upsert(ctx context.Context, externalKey string, profile model.Profile) (*model.User, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"external_key": externalKey,
	}
	update := bson.M{
		"$set": bson.M{
			"name":       profile.DisplayName,
			"email":      profile.Email,
			"avatar":     profile.AvatarRef,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"_id":        uuid.NewString(),
			"created_at": now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var user model.User
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *UserRepo) GetByExternalKey(ctx context.Context, externalKey string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"external_key": externalKey})
}

func (r *UserRepo) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var user model.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *UserRepo) ListExcept(ctx context.Context, excludeID string) ([]*model.User, error) {
	filter := bson.M{
		"_id": bson.M{"$ne": excludeID},
	}
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})

	cur, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	users := []*model.User{}
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}
