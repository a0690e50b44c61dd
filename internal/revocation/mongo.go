package revocation

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type revokedDoc struct {
	JTI       string     `bson:"_id"`
	CreatedAt time.Time  `bson:"createdAt"`
	ExpiresAt *time.Time `bson:"expiresAt,omitempty"`
}

type epochDoc struct {
	Subject string `bson:"_id"`
	Epoch   int64  `bson:"epoch"`
}

// MongoStore implements Store with two collections: revoked ids and subject epochs.
type MongoStore struct {
	revoked *mongo.Collection
	epochs  *mongo.Collection
	now     func() time.Time
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		revoked: db.Collection("revoked_tokens"),
		epochs:  db.Collection("subject_epochs"),
		now:     time.Now,
	}
}

// EnsureIndexes installs a TTL index so expired revocations are dropped by the server.
func (m *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := m.revoked.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	return err
}

func (m *MongoStore) Revoke(ctx context.Context, jti string, until time.Time) error {
	if jti == "" {
		return nil
	}
	doc := revokedDoc{JTI: jti, CreatedAt: m.now().UTC()}
	if !until.IsZero() {
		u := until.UTC()
		doc.ExpiresAt = &u
	}
	_, err := m.revoked.ReplaceOne(ctx, bson.M{"_id": jti}, doc, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var doc revokedDoc
	if err := m.revoked.FindOne(ctx, bson.M{"_id": jti}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return false, nil
		}
		return false, err
	}
	// the TTL monitor runs about once a minute, so check expiry here too
	if doc.ExpiresAt != nil && !m.now().Before(*doc.ExpiresAt) {
		return false, nil
	}
	return true, nil
}

func (m *MongoStore) Epoch(ctx context.Context, sub string) (int64, error) {
	var doc epochDoc
	if err := m.epochs.FindOne(ctx, bson.M{"_id": sub}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return 0, nil
		}
		return 0, err
	}
	return doc.Epoch, nil
}

func (m *MongoStore) BumpEpoch(ctx context.Context, sub string) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc epochDoc
	err := m.epochs.FindOneAndUpdate(ctx, bson.M{"_id": sub}, bson.M{"$inc": bson.M{"epoch": 1}}, opts).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Epoch, nil
}
