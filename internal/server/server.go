package server

import (
	"fmt"
	"net/http"
	"time"

	"ingest/internal/config"
	"ingest/internal/controller"
	"ingest/internal/ws"
)

type Server struct {
	sc     controller.ServerController
	tc     controller.TaskController
	hub    *ws.Hub
	config config.Config
}

// New assembles the HTTP server. The websocket hub must already be running.
func New(config config.Config, sc controller.ServerController, tc controller.TaskController, hub *ws.Hub) *http.Server {
	server := Server{
		sc:     sc,
		tc:     tc,
		hub:    hub,
		config: config,
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%v", config.Port),
		Handler:      server.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}
