package server

import (
	"net/http"
	"time"

	"ingest/internal/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     s.config.CORS.AllowedMethods,
		AllowHeaders:     s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           time.Duration(s.config.CORS.MaxAge) * time.Second,
	}))

	r.GET("/health", s.healthHandler)
	r.GET("/ready", s.readyHandler)

	r.POST("/upload", s.uploadHandler)

	r.GET("/tasks", s.listTasksHandler)
	r.GET("/tasks/:taskId", s.getTaskHandler)
	r.DELETE("/tasks/:taskId", s.deleteTaskHandler)
	r.GET("/tasks/:taskId/errors", s.errorReportHandler)

	r.GET("/jobs/stats", s.queueStatsHandler)

	r.GET("/ws", ws.ServeWS(s.hub))

	return r
}
