package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"envledger/internal/services"
)

// PipelineHandler serves endpoints called by scheduled jobs with an API key.
type PipelineHandler struct {
	archiveService services.ArchiveServicer
	now            func() time.Time
}

// NewPipelineHandler creates a new PipelineHandler.
func NewPipelineHandler(archiveService services.ArchiveServicer) *PipelineHandler {
	return &PipelineHandler{archiveService: archiveService, now: time.Now}
}

// ArchiveExpired runs one retention sweep.
// @Summary     Archive expired budgets
// @Description Move closed budgets past the retention window to archived
// @Tags        pipeline
// @Produce     json
// @Security    ApiKeyAuth
// @Success     200 {object} map[string]int "Number of budgets archived"
// @Failure     401 {object} ErrorResponse "Invalid API key"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /internal/archive [post]
func (h *PipelineHandler) ArchiveExpired(c *gin.Context) {
	n, err := h.archiveService.ArchiveExpired(c.Request.Context(), h.now())
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"archived": n})
}
