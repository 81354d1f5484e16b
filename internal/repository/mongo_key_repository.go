package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/digkill/TGSpeechBot/internal/models"
)

const usersCollection = "users"

// MongoKeyRepository persists user API keys in the "users" collection,
// one document per user_id.
type MongoKeyRepository struct {
	coll *mongo.Collection
}

func NewMongoKeyRepository(client *mongo.Client, database string) *MongoKeyRepository {
	return &MongoKeyRepository{coll: client.Database(database).Collection(usersCollection)}
}

// EnsureIndexes creates the unique user_id index.
func (r *MongoKeyRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create user_id index: %w", err)
	}
	return nil
}

// keyDocument also accepts rows written by the earlier bot, which kept the
// key in gemini_key and updated_at as float unix seconds.
type keyDocument struct {
	UserID    int64         `bson:"user_id"`
	APIKey    string        `bson:"api_key"`
	LegacyKey string        `bson:"gemini_key"`
	UpdatedAt bson.RawValue `bson:"updated_at"`
}

func (d keyDocument) credential() models.UserCredential {
	c := models.UserCredential{UserID: d.UserID, APIKey: d.APIKey}
	if c.APIKey == "" {
		c.APIKey = d.LegacyKey
	}
	switch d.UpdatedAt.Type {
	case bson.TypeDateTime:
		c.UpdatedAt = d.UpdatedAt.Time().UTC()
	case bson.TypeDouble:
		sec := d.UpdatedAt.Double()
		c.UpdatedAt = time.Unix(0, int64(sec*float64(time.Second))).UTC()
	}
	return c
}

func (r *MongoKeyRepository) FindByUserID(ctx context.Context, userID int64) (*models.UserCredential, error) {
	var doc keyDocument
	err := r.coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user key: %w", err)
	}
	c := doc.credential()
	return &c, nil
}

func (r *MongoKeyRepository) Upsert(ctx context.Context, userID int64, apiKey string) error {
	update := bson.M{"$set": bson.M{
		"api_key":    apiKey,
		"updated_at": time.Now().UTC(),
	}}
	_, err := r.coll.UpdateOne(ctx, bson.M{"user_id": userID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert user key: %w", err)
	}
	return nil
}

// ListAll returns every decodable credential. Documents that fail to decode
// are skipped so one bad row cannot empty the cache.
func (r *MongoKeyRepository) ListAll(ctx context.Context) ([]models.UserCredential, error) {
	opts := options.Find().SetProjection(bson.M{"user_id": 1, "api_key": 1, "gemini_key": 1, "updated_at": 1})
	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list user keys: %w", err)
	}
	defer cur.Close(ctx)

	var creds []models.UserCredential
	for cur.Next(ctx) {
		var doc keyDocument
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		if c := doc.credential(); c.APIKey != "" {
			creds = append(creds, c)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate user keys: %w", err)
	}
	return creds, nil
}
