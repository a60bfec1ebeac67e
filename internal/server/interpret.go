package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/acet/internal/api"
	"github.com/xaenox/acet/internal/models"
	"go.uber.org/zap"
)

// Form keys carrying image uploads; bracketed array syntax and the bare name.
var imageFields = []string{api.ImagesField, "images"}

func (s *Server) interpret(c *gin.Context) {
	text := strings.TrimSpace(c.PostForm("text"))
	if text == "" {
		fail(c, http.StatusBadRequest, "text is required")
		return
	}

	var history []models.HistoryEntry
	if raw := c.PostForm("history"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &history); err != nil {
			s.logger.Warn("Failed to parse message history", zap.Error(err))
			history = nil
		}
	}

	var images []models.Attachment
	if form, err := c.MultipartForm(); err == nil && form != nil {
		for _, key := range imageFields {
			for _, fh := range form.File[key] {
				att, err := s.readAttachment(fh)
				if err != nil {
					fail(c, http.StatusBadRequest, fmt.Sprintf("Invalid image upload: %v", err))
					return
				}
				images = append(images, att)
			}
		}
	}

	result, err := s.interpreter.Interpret(c.Request.Context(), text, history, images)
	if err != nil {
		s.logger.Error("Failed to interpret text", zap.Error(err))
		fail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to process request: %v", err))
		return
	}

	c.JSON(http.StatusOK, api.InterpretResponse{
		Type:      result.Type,
		Response:  result.Response,
		NumImages: result.NumImages,
	})
}

func (s *Server) transcribe(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		fh, err = c.FormFile("audio")
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, api.TranscribeResponse{Error: "No audio file provided"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, api.TranscribeResponse{Error: "Failed to read audio", Details: err.Error()})
		return
	}
	defer f.Close()

	text, err := s.interpreter.Transcribe(c.Request.Context(), fh.Filename, io.LimitReader(f, s.cfg.MaxUploadBytes))
	if err != nil {
		s.logger.Error("Failed to transcribe audio", zap.Error(err), zap.String("file", fh.Filename))
		c.JSON(http.StatusInternalServerError, api.TranscribeResponse{Error: "Failed to transcribe audio", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, api.TranscribeResponse{Text: text})
}

func (s *Server) readAttachment(fh *multipart.FileHeader) (models.Attachment, error) {
	if fh.Size > s.cfg.MaxUploadBytes {
		return models.Attachment{}, fmt.Errorf("%s exceeds %d bytes", fh.Filename, s.cfg.MaxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return models.Attachment{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes))
	if err != nil {
		return models.Attachment{}, err
	}
	return models.Attachment{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
