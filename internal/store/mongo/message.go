package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dcadea/eventfabric/internal/apperr"
	"github.com/dcadea/eventfabric/internal/id"
	"github.com/dcadea/eventfabric/internal/model"
)

// MessageRepository is the Message Repository of spec §4.6, backed by the
// `messages` collection.
type MessageRepository struct {
	coll *mongo.Collection
}

// NewMessageRepository wraps the messages collection of db.
func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{coll: db.Collection("messages")}
}

// Insert persists a single message.
func (r *MessageRepository) Insert(ctx context.Context, msg model.Message) error {
	_, err := r.coll.InsertOne(ctx, msg)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "insert message", err)
	}
	return nil
}

// InsertMany persists a chunked create's sibling messages as one bulk
// insert (spec §4.7.1 step 3).
func (r *MessageRepository) InsertMany(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	docs := make([]any, len(msgs))
	for i, m := range msgs {
		docs[i] = m
	}
	_, err := r.coll.InsertMany(ctx, docs)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "insert messages", err)
	}
	return nil
}

// FindByID returns a single message by id.
func (r *MessageRepository) FindByID(ctx context.Context, msgID id.ID) (model.Message, error) {
	var m model.Message
	err := r.coll.FindOne(ctx, bson.M{"_id": msgID}).Decode(&m)
	return m, translateNotFound(err, "message")
}

// FindMostRecent returns the newest message of a talk, used to recompute
// lastMessage after a delete removes the current one (spec §4.7.3).
func (r *MessageRepository) FindMostRecent(ctx context.Context, talkID id.ID) (model.Message, bool, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	var m model.Message
	err := r.coll.FindOne(ctx, bson.M{"talk_id": talkID}, opts).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return model.Message{}, false, nil
	}
	if err != nil {
		return model.Message{}, false, apperr.Wrap(apperr.Transient, "find most recent message", err)
	}
	return m, true, nil
}

// FindByTalkID returns every message of a talk, ascending by timestamp
// (spec §4.6).
func (r *MessageRepository) FindByTalkID(ctx context.Context, talkID id.ID) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	return r.find(ctx, bson.M{"talk_id": talkID}, opts)
}

// FindByTalkIDLimited returns the newest limit messages of a talk, fetched
// descending then reversed into ascending order (spec §4.6).
func (r *MessageRepository) FindByTalkIDLimited(ctx context.Context, talkID id.ID, limit int64) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit)
	msgs, err := r.find(ctx, bson.M{"talk_id": talkID}, opts)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// FindByTalkIDBefore returns every message of a talk strictly before a
// bound, ascending by timestamp.
func (r *MessageRepository) FindByTalkIDBefore(ctx context.Context, talkID id.ID, before model.Message) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	filter := bson.M{"talk_id": talkID, "timestamp": bson.M{"$lt": before.Timestamp}}
	return r.find(ctx, filter, opts)
}

// FindByTalkIDLimitedBefore combines the Limited and Before forms: the
// newest limit messages strictly before the bound, fetched descending then
// reversed into ascending order.
func (r *MessageRepository) FindByTalkIDLimitedBefore(ctx context.Context, talkID id.ID, limit int64, before model.Message) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit)
	filter := bson.M{"talk_id": talkID, "timestamp": bson.M{"$lt": before.Timestamp}}
	msgs, err := r.find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

func (r *MessageRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]model.Message, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "find messages", err)
	}
	defer cur.Close(ctx)

	var msgs []model.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "decode messages", err)
	}
	return msgs, nil
}

func reverse(msgs []model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// Update replaces a message's text (spec §4.7.2).
func (r *MessageRepository) Update(ctx context.Context, msgID id.ID, text string) error {
	_, err := r.coll.UpdateByID(ctx, msgID, bson.M{"$set": bson.M{"text": text}})
	if err != nil {
		return apperr.Wrap(apperr.Transient, "update message", err)
	}
	return nil
}

// Delete removes a message by id, returning the number of documents
// removed (spec §4.6: "delete(id) -> deletedCount").
func (r *MessageRepository) Delete(ctx context.Context, msgID id.ID) (int64, error) {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": msgID})
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "delete message", err)
	}
	return res.DeletedCount, nil
}

// DeleteByTalkID removes every message of a talk, used when the talk
// itself is deleted.
func (r *MessageRepository) DeleteByTalkID(ctx context.Context, talkID id.ID) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"talk_id": talkID})
	if err != nil {
		return apperr.Wrap(apperr.Transient, "delete talk messages", err)
	}
	return nil
}

// MarkSeen bulk-flips the seen flag on the given message ids (spec §4.6,
// §4.7.4).
func (r *MessageRepository) MarkSeen(ctx context.Context, ids []id.ID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.coll.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, bson.M{"$set": bson.M{"seen": true}})
	if err != nil {
		return apperr.Wrap(apperr.Transient, "mark messages seen", err)
	}
	return nil
}
