package registration

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const collectionUsers = "users"

type imageDoc struct {
	Data      []byte    `bson:"data"`
	Timestamp time.Time `bson:"timestamp"`
	URL       string    `bson:"url,omitempty"`
}

type userDoc struct {
	ID            string     `bson:"_id"`
	Images        []imageDoc `bson:"images"`
	FaceEmbedding []float64  `bson:"faceEmbedding"`
}

// MongoStore keeps registrations on the user document: the embedding in
// faceEmbedding and the photos in the images array.
type MongoStore struct {
	users *mongo.Collection
}

// NewMongoStore binds to the users collection of db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{users: db.Collection(collectionUsers)}
}

func (r *MongoStore) UserExists(ctx context.Context, userID string) (bool, error) {
	n, err := r.users.CountDocuments(ctx, bson.M{"_id": userID}, options.Count().SetLimit(1))
	return n > 0, err
}

// SaveRegistration updates the user document in a single write, so the embedding
// and the capped image array never disagree.
func (r *MongoStore) SaveRegistration(ctx context.Context, userID string, embedding []float32, img Image, keep int) error {
	update := bson.M{
		"$set": bson.M{"faceEmbedding": toFloat64(embedding), "faceUpdatedAt": img.Timestamp},
		"$push": bson.M{"images": bson.M{
			"$each":  []imageDoc{{Data: img.Data, Timestamp: img.Timestamp, URL: img.URL}},
			"$slice": -keep,
		}},
	}
	res, err := r.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *MongoStore) ListImages(ctx context.Context, userID string) ([]Image, bool, error) {
	var doc userDoc
	err := r.users.FindOne(ctx, bson.M{"_id": userID}, options.FindOne().SetProjection(bson.M{"images": 1})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, err
	}
	images := make([]Image, 0, len(doc.Images))
	for _, d := range doc.Images {
		images = append(images, Image{Data: d.Data, Timestamp: d.Timestamp, URL: d.URL})
	}
	return images, true, nil
}

func (r *MongoStore) Embeddings(ctx context.Context) (map[string][]float32, error) {
	cur, err := r.users.Find(ctx,
		bson.M{"faceEmbedding": bson.M{"$exists": true}},
		options.Find().SetProjection(bson.M{"faceEmbedding": 1}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[string][]float32)
	for cur.Next(ctx) {
		var doc userDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out[doc.ID] = toFloat32(doc.FaceEmbedding)
	}
	return out, cur.Err()
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
