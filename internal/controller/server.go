package controller

import (
	"context"
	"time"

	"ingest/internal/blob"
	"ingest/internal/database"
	"ingest/internal/queue"
)

// ServerController exposes dependency health probes to the HTTP layer
type ServerController interface {
	DBHealth() error
	BlobHealth() error
	RabbitHealth() error
}

type serverController struct {
	db     database.Database
	blobs  blob.Store
	rabbit queue.Client
}

// NewServerController creates the health probe controller
func NewServerController(db database.Database, blobs blob.Store, rabbit queue.Client) ServerController {
	return &serverController{
		db:     db,
		blobs:  blobs,
		rabbit: rabbit,
	}
}

func (sc *serverController) DBHealth() error {
	return sc.db.Health()
}

func (sc *serverController) BlobHealth() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sc.blobs.Ping(ctx)
}

func (sc *serverController) RabbitHealth() error {
	return sc.rabbit.Health()
}
