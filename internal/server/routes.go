package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"defect-sorter/internal/config"
)

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": "sorterd",
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/status", func(c *gin.Context) {
		resp := gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).String(),
			"state":  s.states.Snapshot(),
		}
		if s.monitor != nil {
			resp["health"] = s.monitor.Status()
		}
		c.JSON(http.StatusOK, resp)
	})

	s.router.GET("/settings", func(c *gin.Context) {
		s.settingsResponse(c, s.orch.Settings())
	})

	s.router.POST("/settings", func(c *gin.Context) {
		var patch config.SettingsPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
			return
		}
		applied, err := s.orch.UpdateSettings(patch)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, config.ErrInvalidSettings) {
				status = http.StatusUnprocessableEntity
			}
			c.JSON(status, gin.H{"status": "error", "error": err.Error()})
			return
		}
		s.settingsResponse(c, applied)
	})

	s.router.POST("/settings/preset/:name", func(c *gin.Context) {
		applied, err := s.orch.ApplyPreset(c.Param("name"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, config.ErrUnknownPreset) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"status": "error", "error": err.Error()})
			return
		}
		s.settingsResponse(c, applied)
	})
}
