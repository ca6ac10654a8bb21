// Package mongo implements the Talk and Message Repositories of spec §4.5
// and §4.6 over go.mongodb.org/mongo-driver, grounded on the document-store
// repositories in original_source (this spec's own source), since the
// teacher's persistence layer (RethinkDB/MySQL via server/store/adapter)
// speaks a different storage model than spec's Mongo-shaped collections.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dcadea/eventfabric/internal/apperr"
	"github.com/dcadea/eventfabric/internal/id"
	"github.com/dcadea/eventfabric/internal/model"
)

// TalkRepository is the Talk Repository of spec §4.5, backed by the
// `talks` collection (spec §6 "Persistence collections").
type TalkRepository struct {
	coll *mongo.Collection
}

// NewTalkRepository wraps the talks collection of db.
func NewTalkRepository(db *mongo.Database) *TalkRepository {
	return &TalkRepository{coll: db.Collection("talks")}
}

// FindByID returns the talk regardless of membership.
func (r *TalkRepository) FindByID(ctx context.Context, talkID id.ID) (model.Talk, error) {
	var t model.Talk
	err := r.coll.FindOne(ctx, bson.M{"_id": talkID}).Decode(&t)
	return t, translateNotFound(err, "talk")
}

// FindByIDAndSub returns the talk only if sub is a member, enforcing
// membership at the storage layer (spec §4.5).
func (r *TalkRepository) FindByIDAndSub(ctx context.Context, talkID id.ID, sub model.UserSub) (model.Talk, error) {
	var t model.Talk
	filter := bson.M{"_id": talkID, "details.members": sub}
	err := r.coll.FindOne(ctx, filter).Decode(&t)
	return t, translateNotFound(err, "talk")
}

// FindBySub returns every talk sub is a member of, ordered by
// lastMessage.timestamp descending (spec §4.5).
func (r *TalkRepository) FindBySub(ctx context.Context, sub model.UserSub) ([]model.Talk, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message.timestamp", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.M{"details.members": sub}, opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "find talks by sub", err)
	}
	defer cur.Close(ctx)

	var talks []model.Talk
	if err := cur.All(ctx, &talks); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "decode talks", err)
	}
	return talks, nil
}

// Exists reports whether a Chat-kind talk already exists with exactly the
// given member set, used to enforce the chat-uniqueness invariant (spec
// §4.5 and §8).
func (r *TalkRepository) Exists(ctx context.Context, members []model.UserSub) (bool, error) {
	filter := bson.M{
		"kind":             model.TalkChat,
		"details.members":  bson.M{"$all": members, "$size": len(members)},
	}
	count, err := r.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, apperr.Wrap(apperr.Transient, "check chat existence", err)
	}
	return count > 0, nil
}

// Create persists a new talk.
func (r *TalkRepository) Create(ctx context.Context, talk model.Talk) error {
	_, err := r.coll.InsertOne(ctx, talk)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.WithReason(apperr.Conflict, apperr.ReasonAlreadyExists, "talk already exists")
	}
	if err != nil {
		return apperr.Wrap(apperr.Transient, "create talk", err)
	}
	return nil
}

// Delete removes a talk by id.
func (r *TalkRepository) Delete(ctx context.Context, talkID id.ID) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"_id": talkID})
	if err != nil {
		return apperr.Wrap(apperr.Transient, "delete talk", err)
	}
	return nil
}

// UpdateLastMessage sets or clears the talk's denormalized lastMessage
// pointer (spec §4.5). A nil lm clears the field, used when the deleted
// message was the current lastMessage and nothing replaces it.
func (r *TalkRepository) UpdateLastMessage(ctx context.Context, talkID id.ID, lm *model.LastMessage) error {
	update := bson.M{"$set": bson.M{"last_message": lm}}
	_, err := r.coll.UpdateByID(ctx, talkID, update)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "update last message", err)
	}
	return nil
}

// MarkLastMessageSeen flips the seen flag on the talk's denormalized
// lastMessage pointer without touching the messages collection.
func (r *TalkRepository) MarkLastMessageSeen(ctx context.Context, talkID id.ID) error {
	update := bson.M{"$set": bson.M{"last_message.seen": true}}
	_, err := r.coll.UpdateByID(ctx, talkID, update)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "mark last message seen", err)
	}
	return nil
}

func translateNotFound(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.New(apperr.NotFound, fmt.Sprintf("%s not found", what))
	}
	return apperr.Wrap(apperr.Transient, fmt.Sprintf("find %s", what), err)
}
