package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aionmeter/aionmeter/internal/pipeline"
)

// handleStart starts the capture pipeline.
func (s *Server) handleStart(c *gin.Context) {
	// The pipeline must outlive the HTTP request.
	err := s.pipeline.Start(s.baseCtx)
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, pipeline.ErrNoSource):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("API: failed to start capture")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info().Str("client_ip", c.ClientIP()).Msg("API: capture started")
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

// handleStop stops the capture pipeline and waits for it to drain.
func (s *Server) handleStop(c *gin.Context) {
	if err := s.pipeline.Stop(); err != nil {
		if errors.Is(err, pipeline.ErrNotRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info().Str("client_ip", c.ClientIP()).Msg("API: capture stopped")
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// handleReset clears streams, entities and combat sessions.
func (s *Server) handleReset(c *gin.Context) {
	s.pipeline.Reset()
	s.logger.Info().Str("client_ip", c.ClientIP()).Msg("API: meter reset")
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
