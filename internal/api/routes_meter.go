package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// handleCombat returns the current combat window summary.
func (s *Server) handleCombat(c *gin.Context) {
	manager := s.pipeline.Manager()
	c.JSON(http.StatusOK, gin.H{
		"summary": manager.Summary(),
		"state":   manager.State(),
	})
}

// handlePlayers returns per-player statistics ordered by damage.
func (s *Server) handlePlayers(c *gin.Context) {
	players := s.pipeline.Manager().PlayerStats()
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"total":   len(players),
	})
}

// handlePlayerSkills returns the skill breakdown of one player.
func (s *Server) handlePlayerSkills(c *gin.Context) {
	id, err := parseEntityID(c)
	if err != nil {
		return
	}

	skills, ok := s.pipeline.Manager().SkillStats(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found", "player_id": id})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"player_id": id,
		"skills":    skills,
	})
}

// handlePlayerLog returns the newest hits of one player.
func (s *Server) handlePlayerLog(c *gin.Context) {
	id, err := parseEntityID(c)
	if err != nil {
		return
	}

	limit := s.cfg.GetCombat().LogLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}

	entries, ok := s.pipeline.Manager().CombatLog(id, limit)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found", "player_id": id})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"player_id": id,
		"entries":   entries,
		"count":     len(entries),
	})
}

// handleEntities lists every known player and target.
func (s *Server) handleEntities(c *gin.Context) {
	tracker := s.pipeline.Tracker()
	c.JSON(http.StatusOK, gin.H{
		"players": tracker.Players(),
		"targets": tracker.Targets(),
		"counts":  tracker.Counts(),
	})
}

func parseEntityID(c *gin.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid player id"})
		if err == nil {
			err = fmt.Errorf("player id %d out of range", id)
		}
		return 0, err
	}
	return id, nil
}
