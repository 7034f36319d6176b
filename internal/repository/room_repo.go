package repository

import (
	"context"
	"errors"
	"time"

	"debugsync/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrRoomExists is returned by Create when the room code is already taken.
// Callers racing on first join treat it as "room now exists, re-read".
var ErrRoomExists = errors.New("room already exists")

type RoomRepo interface {
	EnsureIndexes(ctx context.Context) error
	FindByCode(ctx context.Context, code string) (*model.Room, error)
	Create(ctx context.Context, room *model.Room) error
	AddMember(ctx context.Context, code, username string) error
	RemoveMember(ctx context.Context, code, username string) error
	SaveSnapshot(ctx context.Context, code string, snap model.Snapshot) error
	AppendChat(ctx context.Context, code string, msg model.ChatMessage) error
	Delete(ctx context.Context, code string) error
}

type roomRepo struct {
	collection *mongo.Collection
}

func NewRoomRepo(db *mongo.Database) RoomRepo {
	return &roomRepo{
		collection: db.Collection("rooms"),
	}
}

// EnsureIndexes creates the unique index on the room code. Room creation
// relies on it to serialize concurrent first joins.
func (r *roomRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.M{"code": 1},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *roomRepo) FindByCode(ctx context.Context, code string) (*model.Room, error) {
	var room model.Room
	err := r.collection.FindOne(ctx, bson.M{"code": code}).Decode(&room)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil // Room not found
		}
		return nil, err
	}

	return &room, nil
}

func (r *roomRepo) Create(ctx context.Context, room *model.Room) error {
	_, err := r.collection.InsertOne(ctx, room)
	if mongo.IsDuplicateKeyError(err) {
		return ErrRoomExists
	}
	return err
}

func (r *roomRepo) AddMember(ctx context.Context, code, username string) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"code": code}, bson.M{
		"$addToSet": bson.M{"members": username},
		"$set":      bson.M{"updatedAt": time.Now()},
	})
	return err
}

func (r *roomRepo) RemoveMember(ctx context.Context, code, username string) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"code": code}, bson.M{
		"$pull": bson.M{"members": username},
		"$set":  bson.M{"updatedAt": time.Now()},
	})
	return err
}

// SaveSnapshot overwrites the current buffer and appends the history entry
// in a single document update, so readers never observe one without the other.
func (r *roomRepo) SaveSnapshot(ctx context.Context, code string, snap model.Snapshot) error {
	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, bson.M{"code": code}, bson.M{
		"$set": bson.M{
			"buffer":    snap.Buffer,
			"updatedAt": snap.Timestamp,
		},
		"$setOnInsert": bson.M{"createdAt": snap.Timestamp},
		"$push":        bson.M{"history": snap},
	}, opts)
	return err
}

func (r *roomRepo) AppendChat(ctx context.Context, code string, msg model.ChatMessage) error {
	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, bson.M{"code": code}, bson.M{
		"$push": bson.M{"chat": msg},
		"$set":  bson.M{"updatedAt": msg.Timestamp},
	}, opts)
	return err
}

func (r *roomRepo) Delete(ctx context.Context, code string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"code": code})
	return err
}
