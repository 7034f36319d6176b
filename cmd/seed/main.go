package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"debugsync/config"
	"debugsync/internal/model"
	"debugsync/internal/repository"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Seeds a demo room so a fresh environment has something to open.
func main() {
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.MongoDB)
	rooms := repository.NewRoomRepo(db)

	if err := rooms.EnsureIndexes(ctx); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}

	now := time.Now()
	room := &model.Room{
		Code:    "DEMO01",
		Buffer:  "console.log(\"hello, room\");\n",
		Admin:   "demo-admin",
		Members: []string{"demo-admin"},
		Chat: []model.ChatMessage{
			{Sender: "demo-admin", Text: "welcome to the demo room", Timestamp: now},
		},
		History: []model.Snapshot{
			{Buffer: "console.log(\"hello, room\");\n", Timestamp: now, Author: "demo-admin"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := rooms.Create(ctx, room); err != nil {
		if err == repository.ErrRoomExists {
			log.Println("Demo room already seeded")
			return
		}
		log.Fatalf("Failed to seed room: %v", err)
	}

	fmt.Printf("Seeded room %s (admin %s)\n", room.Code, room.Admin)
}
