package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ngdi-portal/portal/internal/metadata"
)

// @Summary List metadata records
// @Tags metadata
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page (1-based)"
// @Param limit query int false "Page size"
// @Param q query string false "Title or organization filter"
// @Success 200 {object} metadata.Page
// @Router /api/metadata [get]
func (s *Server) listMetadata(c *gin.Context) {
	var q metadata.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondValidation(c, map[string]string{"page": "page and limit must be integers"})
		return
	}

	page, err := s.metadata.List(c.Request.Context(), q)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list metadata records")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, page)
}

// @Summary Get a metadata record
// @Tags metadata
// @Produce json
// @Security BearerAuth
// @Param id path string true "Record ID"
// @Success 200 {object} models.MetadataRecord
// @Failure 404 {object} map[string]interface{}
// @Router /api/metadata/{id} [get]
func (s *Server) getMetadata(c *gin.Context) {
	record, err := s.metadata.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondMetadataError(c, err, "Failed to load metadata record")
		return
	}
	c.JSON(http.StatusOK, record)
}

// @Summary Create a metadata record
// @Tags metadata
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body metadata.Input true "Record"
// @Success 201 {object} models.MetadataRecord
// @Failure 422 {object} map[string]interface{}
// @Router /api/metadata [post]
func (s *Server) createMetadata(c *gin.Context) {
	in, ok := s.bindMetadataInput(c)
	if !ok {
		return
	}

	session := GetSession(c)
	record, err := s.metadata.Create(c.Request.Context(), in, session.User.ID)
	if err != nil {
		s.respondMetadataError(c, err, "Failed to create metadata record")
		return
	}

	s.logger.Info().
		Str("record_id", record.ID).
		Str("created_by", session.User.ID).
		Msg("Metadata record created")

	c.JSON(http.StatusCreated, record)
}

// @Summary Update a metadata record
// @Tags metadata
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Record ID"
// @Param request body metadata.Input true "Record"
// @Success 200 {object} models.MetadataRecord
// @Failure 404 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /api/metadata/{id} [put]
func (s *Server) updateMetadata(c *gin.Context) {
	in, ok := s.bindMetadataInput(c)
	if !ok {
		return
	}

	record, err := s.metadata.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		s.respondMetadataError(c, err, "Failed to update metadata record")
		return
	}

	s.logger.Info().
		Str("record_id", record.ID).
		Str("updated_by", GetSession(c).User.ID).
		Msg("Metadata record updated")

	c.JSON(http.StatusOK, record)
}

// @Summary Delete a metadata record
// @Tags metadata
// @Security BearerAuth
// @Param id path string true "Record ID"
// @Success 204
// @Failure 404 {object} map[string]interface{}
// @Router /api/metadata/{id} [delete]
func (s *Server) deleteMetadata(c *gin.Context) {
	id := c.Param("id")
	if err := s.metadata.Delete(c.Request.Context(), id); err != nil {
		s.respondMetadataError(c, err, "Failed to delete metadata record")
		return
	}

	s.logger.Info().
		Str("record_id", id).
		Str("deleted_by", GetSession(c).User.ID).
		Msg("Metadata record deleted")

	c.Status(http.StatusNoContent)
}

func (s *Server) bindMetadataInput(c *gin.Context) (metadata.Input, bool) {
	var in metadata.Input
	if !s.bindJSON(c, &in) {
		return in, false
	}
	if fields := in.Check(); fields != nil {
		respondValidation(c, fields)
		return in, false
	}
	return in, true
}

func (s *Server) respondMetadataError(c *gin.Context, err error, message string) {
	if errors.Is(err, metadata.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Metadata record not found"})
		return
	}
	s.logger.Error().Err(err).Str("record_id", c.Param("id")).Msg(message)
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}
