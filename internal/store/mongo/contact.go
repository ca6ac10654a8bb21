package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/dcadea/eventfabric/internal/apperr"
	"github.com/dcadea/eventfabric/internal/id"
	"github.com/dcadea/eventfabric/internal/model"
)

// ContactRepository backs the supplemented Contact lifecycle service
// (SPEC_FULL.md §4), storing edges in the `contacts` collection.
type ContactRepository struct {
	coll *mongo.Collection
}

// NewContactRepository wraps the contacts collection of db.
func NewContactRepository(db *mongo.Database) *ContactRepository {
	return &ContactRepository{coll: db.Collection("contacts")}
}

// pairFilter matches the single row for an unordered (a, b) pair
// regardless of which side is stored as SubA/SubB.
func pairFilter(a, b model.UserSub) bson.M {
	return bson.M{
		"$or": bson.A{
			bson.M{"sub_a": a, "sub_b": b},
			bson.M{"sub_a": b, "sub_b": a},
		},
	}
}

// FindPair returns the existing contact edge between a and b, if any.
func (r *ContactRepository) FindPair(ctx context.Context, a, b model.UserSub) (model.Contact, bool, error) {
	var c model.Contact
	err := r.coll.FindOne(ctx, pairFilter(a, b)).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return model.Contact{}, false, nil
	}
	if err != nil {
		return model.Contact{}, false, apperr.Wrap(apperr.Transient, "find contact pair", err)
	}
	return c, true, nil
}

// FindByID returns a contact edge by its id, used by the REST
// transition endpoints which only carry an id on the wire.
func (r *ContactRepository) FindByID(ctx context.Context, contactID id.ID) (model.Contact, error) {
	var c model.Contact
	err := r.coll.FindOne(ctx, bson.M{"_id": contactID}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return model.Contact{}, apperr.New(apperr.NotFound, "contact not found")
	}
	if err != nil {
		return model.Contact{}, apperr.Wrap(apperr.Transient, "find contact by id", err)
	}
	return c, nil
}

// FindBySub returns every contact edge sub participates in, any status.
func (r *ContactRepository) FindBySub(ctx context.Context, sub model.UserSub) ([]model.Contact, error) {
	cur, err := r.coll.Find(ctx, bson.M{"$or": bson.A{bson.M{"sub_a": sub}, bson.M{"sub_b": sub}}})
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "find contacts by sub", err)
	}
	defer cur.Close(ctx)

	var contacts []model.Contact
	if err := cur.All(ctx, &contacts); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "decode contacts", err)
	}
	return contacts, nil
}

// Create persists a new contact edge.
func (r *ContactRepository) Create(ctx context.Context, c model.Contact) error {
	_, err := r.coll.InsertOne(ctx, c)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.WithReason(apperr.Conflict, apperr.ReasonAlreadyExists, "contact already exists")
	}
	if err != nil {
		return apperr.Wrap(apperr.Transient, "create contact", err)
	}
	return nil
}

// UpdateStatus transitions an existing contact edge to a new status.
func (r *ContactRepository) UpdateStatus(ctx context.Context, contactID id.ID, status model.ContactStatus) error {
	_, err := r.coll.UpdateByID(ctx, contactID, bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return apperr.Wrap(apperr.Transient, "update contact status", err)
	}
	return nil
}
