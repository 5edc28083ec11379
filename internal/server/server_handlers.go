package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readyHandler(c *gin.Context) {
	dbErr := s.sc.DBHealth()
	blobErr := s.sc.BlobHealth()
	rabbitErr := s.sc.RabbitHealth()

	res := gin.H{
		"database": dbErr == nil,
		"blob":     blobErr == nil,
		"rabbit":   rabbitErr == nil,
	}

	if dbErr != nil || blobErr != nil || rabbitErr != nil {
		c.JSON(http.StatusServiceUnavailable, res)
		return
	}

	c.JSON(http.StatusOK, res)
}
