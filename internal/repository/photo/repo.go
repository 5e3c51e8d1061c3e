// Package photo persists photo records in MongoDB.
package photo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"photomap/internal/apperr"
	"photomap/internal/model"
)

const collectionName = "photos"

// Repository is a MongoDB-backed photo store.
type Repository struct {
	coll *mongo.Collection
}

func NewRepository(db *mongo.Database) *Repository {
	return &Repository{coll: db.Collection(collectionName)}
}

// EnsureIndexes creates the indexes queried by the service: content hash for
// duplicate detection, tags, and the timestamp/uploader listing order.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "hash_md5", Value: 1}}},
		{Keys: bson.D{{Key: "tags", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}, {Key: "uploader_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create photo indexes: %w", err)
	}
	return nil
}

func (r *Repository) CreatePhoto(ctx context.Context, photo *model.Photo) error {
	if _, err := r.coll.InsertOne(ctx, photo); err != nil {
		return fmt.Errorf("insert photo: %w", err)
	}
	return nil
}

func (r *Repository) GetPhoto(ctx context.Context, id string) (*model.Photo, error) {
	var photo model.Photo
	err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&photo)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("photo %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find photo: %w", err)
	}
	return &photo, nil
}

// GetPhotos lists photos matching the filters, newest first.
func (r *Repository) GetPhotos(ctx context.Context, filters model.PhotoFilters) ([]model.Photo, error) {
	query := buildQuery(filters)

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if filters.Limit > 0 {
		opts.SetLimit(int64(filters.Limit))
	}
	if filters.Offset > 0 {
		opts.SetSkip(int64(filters.Offset))
	}

	cur, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("find photos: %w", err)
	}
	defer cur.Close(ctx)

	var photos []model.Photo
	if err := cur.All(ctx, &photos); err != nil {
		return nil, fmt.Errorf("decode photos: %w", err)
	}
	return photos, nil
}

func (r *Repository) UpdatePhoto(ctx context.Context, photo *model.Photo) error {
	photo.UpdatedAt = time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, bson.M{"id": photo.ID}, bson.M{"$set": photo})
	if err != nil {
		return fmt.Errorf("update photo: %w", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("photo %s not found", photo.ID)
	}
	return nil
}

func (r *Repository) DeletePhoto(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}
	if res.DeletedCount == 0 {
		return apperr.NotFound("photo %s not found", id)
	}
	return nil
}

// GetPhotosByHash returns all records with the given content hash.
// Duplicate detection is authoritative on the hash, never on filenames.
func (r *Repository) GetPhotosByHash(ctx context.Context, hash string) ([]model.Photo, error) {
	cur, err := r.coll.Find(ctx, bson.M{"hash_md5": hash})
	if err != nil {
		return nil, fmt.Errorf("find photos by hash: %w", err)
	}
	defer cur.Close(ctx)

	var photos []model.Photo
	if err := cur.All(ctx, &photos); err != nil {
		return nil, fmt.Errorf("decode photos: %w", err)
	}
	return photos, nil
}

// GetPhotosInBounds returns every photo inside the bounding box, newest
// first.
func (r *Repository) GetPhotosInBounds(ctx context.Context, minLat, maxLat, minLng, maxLng float64) ([]model.Photo, error) {
	query := bson.M{
		"latitude":  bson.M{"$gte": minLat, "$lte": maxLat},
		"longitude": bson.M{"$gte": minLng, "$lte": maxLng},
	}

	cur, err := r.coll.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("find photos in bounds: %w", err)
	}
	defer cur.Close(ctx)

	var photos []model.Photo
	if err := cur.All(ctx, &photos); err != nil {
		return nil, fmt.Errorf("decode photos: %w", err)
	}
	return photos, nil
}

func (r *Repository) CountPhotos(ctx context.Context, filters model.PhotoFilters) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, buildQuery(filters))
	if err != nil {
		return 0, fmt.Errorf("count photos: %w", err)
	}
	return n, nil
}

// HealthCheck pings the backing deployment.
func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.coll.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongodb: %w", err)
	}
	return nil
}

func buildQuery(filters model.PhotoFilters) bson.M {
	query := bson.M{}

	if filters.StartDate != nil || filters.EndDate != nil {
		ts := bson.M{}
		if filters.StartDate != nil {
			ts["$gte"] = *filters.StartDate
		}
		if filters.EndDate != nil {
			ts["$lte"] = *filters.EndDate
		}
		query["timestamp"] = ts
	}
	if len(filters.Tags) > 0 {
		query["tags"] = bson.M{"$in": filters.Tags}
	}
	if filters.UploaderID != "" {
		query["uploader_id"] = filters.UploaderID
	}
	if filters.MinLat != nil && filters.MaxLat != nil {
		query["latitude"] = bson.M{"$gte": *filters.MinLat, "$lte": *filters.MaxLat}
	}
	if filters.MinLng != nil && filters.MaxLng != nil {
		query["longitude"] = bson.M{"$gte": *filters.MinLng, "$lte": *filters.MaxLng}
	}
	return query
}
