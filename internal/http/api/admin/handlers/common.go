package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	fronthandlers "github.com/mystartupai/creditledger/internal/http/api/front/handlers"
	log "github.com/sirupsen/logrus"
)

// parseID reads the :id path parameter.
func parseID(c *gin.Context) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	value, errParse := strconv.Atoi(raw)
	if errParse != nil || value < 0 {
		return fallback
	}
	return value
}

// respondError maps domain errors with the same codes the front API uses.
func respondError(c *gin.Context, err error) {
	code, status := fronthandlers.ErrorStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("admin request failed")
		message = "internal error"
	}
	c.JSON(status, gin.H{"error": code, "message": message})
}
