package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xaenox/acet/internal/api"
	"github.com/xaenox/acet/internal/jobstore"
	"go.uber.org/zap"
)

// startJob registers a job under the caller's id when it supplied a valid one.
func (s *Server) startJob(c *gin.Context, jobType string, total int) string {
	id := c.GetHeader(api.JobIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	c.Header(api.JobIDHeader, id)
	if s.jobs == nil {
		return id
	}
	if _, err := s.jobs.Create(id, jobType, total); err != nil {
		s.logger.Warn("Failed to record job", zap.Error(err), zap.String("job", id))
	}
	return id
}

func (s *Server) advanceJob(id string) {
	if s.jobs == nil {
		return
	}
	if _, err := s.jobs.Advance(id); err != nil {
		s.logger.Warn("Failed to update job progress", zap.Error(err), zap.String("job", id))
	}
}

func (s *Server) completeJob(id string, result any) {
	if s.jobs == nil {
		return
	}
	if _, err := s.jobs.Complete(id, result); err != nil {
		s.logger.Warn("Failed to complete job", zap.Error(err), zap.String("job", id))
	}
}

func (s *Server) failJob(id string, cause error) {
	if s.jobs == nil {
		return
	}
	if _, err := s.jobs.Fail(id, cause); err != nil {
		s.logger.Warn("Failed to mark job failed", zap.Error(err), zap.String("job", id))
	}
}

func (s *Server) jobStatus(c *gin.Context) {
	if s.jobs == nil {
		fail(c, http.StatusNotFound, "Job not found")
		return
	}
	job, err := s.jobs.Get(c.Param("id"))
	if errors.Is(err, jobstore.ErrNotFound) {
		fail(c, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, job)
}
