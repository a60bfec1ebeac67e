package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/acet/internal/api"
	"github.com/xaenox/acet/internal/models"
	"github.com/xaenox/acet/internal/storage"
	"go.uber.org/zap"
)

func (s *Server) addTerm(c *gin.Context) {
	var req api.AddTermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	term := models.GlossaryTerm{Term: req.Term, Explanation: req.Explanation, Category: req.Category}
	err := s.glossary.AddTerm(c.Request.Context(), &term)
	switch {
	case errors.Is(err, storage.ErrEmptyTerm):
		fail(c, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, storage.ErrDuplicateTerm):
		fail(c, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("Failed to save glossary term", zap.Error(err), zap.String("term", req.Term))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.metrics.glossaryOp("add")
	c.JSON(http.StatusCreated, term)
}

func (s *Server) listTerms(c *gin.Context) {
	terms, err := s.glossary.ListTerms(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to list glossary", zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if terms == nil {
		terms = []models.GlossaryTerm{}
	}
	c.JSON(http.StatusOK, api.TermListResponse{Terms: terms})
}

func (s *Server) listCategories(c *gin.Context) {
	groups, err := storage.Categories(c.Request.Context(), s.glossary)
	if err != nil {
		s.logger.Error("Failed to group glossary", zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if groups == nil {
		groups = []models.CategoryGroup{}
	}
	c.JSON(http.StatusOK, api.CategoryListResponse{Categories: groups})
}

func (s *Server) deleteTermByText(c *gin.Context) {
	n, err := s.glossary.DeleteByText(c.Request.Context(), c.Param("term"))
	if err != nil {
		s.logger.Error("Failed to delete term", zap.Error(err), zap.String("term", c.Param("term")))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.glossaryOp("delete_text")
	c.JSON(http.StatusOK, api.DeleteResponse{Deleted: n})
}

// deleteTermByID removes every row sharing the text of row id.
func (s *Server) deleteTermByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid term ID")
		return
	}

	ctx := c.Request.Context()
	var n int64
	term, err := s.glossary.GetTerm(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		n = 0
	case err != nil:
		fail(c, http.StatusInternalServerError, err.Error())
		return
	default:
		n, err = s.glossary.DeleteByText(ctx, term.Term)
		if err == nil && n == 0 {
			n, err = s.glossary.DeleteByID(ctx, id)
		}
		if err != nil {
			s.logger.Error("Failed to delete term", zap.Error(err), zap.Int64("id", id))
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.metrics.glossaryOp("delete_id")
	c.JSON(http.StatusOK, api.DeleteResponse{Deleted: n})
}
