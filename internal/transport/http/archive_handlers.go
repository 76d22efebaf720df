package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/marketchat/marketchat-server/internal/archive"
	"github.com/marketchat/marketchat-server/internal/chat"
)

// ArchiveHandlers exposes the archiver's operational endpoints.
type ArchiveHandlers struct {
	archiver *archive.Archiver
	log      *zerolog.Logger
}

// NewArchiveHandlers creates a new archive handlers instance.
func NewArchiveHandlers(archiver *archive.Archiver, logger *zerolog.Logger) *ArchiveHandlers {
	return &ArchiveHandlers{archiver: archiver, log: logger}
}

// Stats handles GET /api/admin/archive/stats.
func (h *ArchiveHandlers) Stats(c *gin.Context) {
	stats, err := h.archiver.Stats(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("archive stats")
		respondError(c, &chat.Error{Code: chat.CodeInternal, Message: "failed to read archive stats"})
		return
	}
	respond(c, http.StatusOK, stats)
}

// Run handles POST /api/admin/archive.
func (h *ArchiveHandlers) Run(c *gin.Context) {
	var req ArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, &chat.Error{Code: chat.CodeValidation, Message: "invalid request body"})
		return
	}
	if req.OlderThanDays < 0 {
		respondError(c, &chat.Error{Code: chat.CodeValidation, Message: "older_than_days must not be negative"})
		return
	}

	res, err := h.archiver.Archive(c.Request.Context(), req.OlderThanDays)
	if err != nil {
		if errors.Is(err, archive.ErrPartial) {
			// Copies landed but the prune failed; the caller should retry.
			h.log.Warn().Err(err).Msg("archive pass incomplete")
			c.JSON(http.StatusOK, Response{
				Success: false,
				Data:    res,
				Error:   &ErrorBody{Message: "archived but not pruned, retry the pass"},
			})
			return
		}
		h.log.Error().Err(err).Msg("archive pass failed")
		respondError(c, &chat.Error{Code: chat.CodeInternal, Message: "archive pass failed"})
		return
	}
	respond(c, http.StatusOK, res)
}

// Restore handles POST /api/admin/archive/restore.
func (h *ArchiveHandlers) Restore(c *gin.Context) {
	var req RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, &chat.Error{Code: chat.CodeValidation, Message: "invalid request body"})
		return
	}

	n, err := h.archiver.Restore(c.Request.Context(), req.MessageIDs)
	if err != nil {
		h.log.Error().Err(err).Msg("archive restore failed")
		respondError(c, &chat.Error{Code: chat.CodeInternal, Message: "restore failed"})
		return
	}
	respond(c, http.StatusOK, gin.H{"restored": n})
}
