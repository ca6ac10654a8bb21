package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dcadea/eventfabric/internal/apperr"
	"github.com/dcadea/eventfabric/internal/model"
)

// UserRepository is the database fallback behind the Identity Resolver's
// profile lookup (spec §4.4), backed by the `users` collection.
type UserRepository struct {
	coll *mongo.Collection
}

// NewUserRepository wraps the users collection of db.
func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{coll: db.Collection("users")}
}

// FindBySub implements identity.ProfileRepository.
func (r *UserRepository) FindBySub(ctx context.Context, sub model.UserSub) (model.Profile, error) {
	var p model.Profile
	err := r.coll.FindOne(ctx, bson.M{"sub": sub}).Decode(&p)
	return p, translateNotFound(err, "user")
}

// Upsert writes the profile fetched from the IdP userinfo endpoint on
// first sight of a sub, the way a new OAuth login populates the users
// collection.
func (r *UserRepository) Upsert(ctx context.Context, p model.Profile) error {
	filter := bson.M{"sub": p.Sub}
	update := bson.M{"$set": p}
	_, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return apperr.Wrap(apperr.Transient, "upsert user", err)
	}
	return nil
}
