package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xaenox/acet/internal/api"
	"github.com/xaenox/acet/internal/civitai"
	"github.com/xaenox/acet/internal/imageproc"
	"github.com/xaenox/acet/internal/interpreter"
	"github.com/xaenox/acet/internal/models"
	"go.uber.org/zap"
)

const (
	maxRemixImages  = 4
	defaultStrength = 0.7
	maxScaleFactor  = 4.0
	remixNote       = "These variations were produced with local image processing. The enhanced prompt is kept for AI generation."
)

var errImageMissing = errors.New("image not found")

func (s *Server) generateImage(c *gin.Context) {
	var req api.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		fail(c, http.StatusBadRequest, "prompt is required")
		return
	}

	modelURN := req.ModelURN
	if urn, ok := s.catalog.ModelURN(req.Model); !ok {
		fail(c, http.StatusBadRequest, fmt.Sprintf("Model %s not found in models library", req.Model))
		return
	} else if modelURN == "" {
		modelURN = urn
	}

	n := interpreter.ClampImages(req.NumImages)
	jobID := s.startJob(c, "generate", n)

	ctx := c.Request.Context()
	networks := req.AdditionalNetworks
	if len(networks) == 0 {
		networks = s.catalog.DetectLoRAs(req.Prompt)
	}

	prompt, suggested, err := s.interpreter.EnhancePrompt(ctx, req.Prompt)
	if err != nil {
		s.logger.Warn("Failed to enhance prompt, using original", zap.Error(err))
		prompt = req.Prompt
	}
	if len(networks) == 0 && len(suggested) > 0 {
		networks = suggested
	}

	params := civitai.Params{
		Prompt:         prompt,
		NegativePrompt: req.NegativePrompt,
		Steps:          req.Steps,
		CFGScale:       req.GuidanceScale,
		Width:          req.Width,
		Height:         req.Height,
	}

	urls := make([]string, n)
	civitaiIDs := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			civitaiIDs[i], urls[i] = s.generateOne(ctx, c, i, n, jobID, civitai.JobRequest{
				Model:              modelURN,
				Params:             params,
				AdditionalNetworks: networks,
			})
		}(i)
	}
	wg.Wait()

	urls = compact(urls)
	civitaiIDs = compact(civitaiIDs)
	if len(urls) == 0 {
		s.failJob(jobID, errors.New("failed to generate any images"))
		fail(c, http.StatusInternalServerError, "Failed to generate any images")
		return
	}
	s.metrics.imagesAdded("generated", len(urls))

	resp := api.ImageSetResponse{
		JobID:         jobID,
		ImageURLs:     urls,
		CivitaiJobIDs: civitaiIDs,
		GenerationData: &models.GenerationData{
			Prompt:         prompt,
			OriginalPrompt: req.Prompt,
			PromptEnhanced: prompt != req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Model:          req.Model,
			Loras:          networks,
		},
	}
	s.completeJob(jobID, resp)
	c.JSON(http.StatusOK, resp)
}

// generateOne returns the Civitai job id and public URL of one image, or
// two empty strings when the image could not be produced.
func (s *Server) generateOne(ctx context.Context, c *gin.Context, i, n int, jobID string, req civitai.JobRequest) (string, string) {
	log := s.logger.With(zap.String("job", jobID), zap.Int("image", i+1), zap.Int("of", n))

	civitaiID, blobURL, err := s.generator.Generate(ctx, req)
	if err != nil {
		log.Error("Failed to generate image", zap.Error(err), zap.String("civitai_id", civitaiID))
		return "", ""
	}
	data, err := s.generator.Download(ctx, blobURL)
	if err != nil {
		log.Error("Failed to download image", zap.Error(err), zap.String("civitai_id", civitaiID))
		return "", ""
	}
	name := fmt.Sprintf("civitai_%s.png", uuid.NewString())
	if err := s.writeOutput(name, data); err != nil {
		log.Error("Failed to save image", zap.Error(err), zap.String("civitai_id", civitaiID))
		return "", ""
	}
	s.advanceJob(jobID)
	log.Info("Generated image", zap.String("file", name))
	return civitaiID, s.imageURL(c, name)
}

func (s *Server) remixImage(c *gin.Context) {
	var req api.RemixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.ImageURL == "" {
		fail(c, http.StatusBadRequest, "Image URL is required")
		return
	}

	strength := req.Strength
	if strength == 0 {
		strength = defaultStrength
	}
	strength = clamp(strength, 0.3, 1.0)
	n := req.NumImages
	if n <= 0 || n > maxRemixImages {
		n = maxRemixImages
	}

	jobID := s.startJob(c, "remix", n)
	ctx := c.Request.Context()
	prompt, suggested, err := s.interpreter.EnhancePrompt(ctx, req.Prompt)
	if err != nil {
		s.logger.Warn("Failed to enhance prompt, using original", zap.Error(err))
		prompt = req.Prompt
	}

	src, err := s.loadSource(ctx, req.ImageURL)
	if err != nil {
		s.failJob(jobID, err)
		s.logger.Error("Failed to load remix source", zap.Error(err), zap.String("url", sourceLabel(req.ImageURL)))
		fail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to remix image: %v", err))
		return
	}
	img, err := imageproc.Decode(src)
	if err != nil {
		s.failJob(jobID, err)
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	urls := make([]string, n)
	seed := time.Now().UnixNano()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed + int64(i)))
			out := imageproc.Variation(img, i, strength, rnd)
			name, err := s.saveImage("remix", out, "png")
			if err != nil {
				s.logger.Error("Failed to save variation", zap.Error(err), zap.Int("index", i))
				return
			}
			s.advanceJob(jobID)
			urls[i] = s.imageURL(c, name)
		}(i)
	}
	wg.Wait()

	urls = compact(urls)
	if len(urls) == 0 {
		s.failJob(jobID, errors.New("failed to generate image variations"))
		fail(c, http.StatusInternalServerError, "Failed to generate image variations")
		return
	}
	s.metrics.imagesAdded("remixed", len(urls))

	resp := api.ImageSetResponse{
		JobID:     jobID,
		ImageURLs: urls,
		RemixData: &models.GenerationData{
			Prompt:         prompt,
			OriginalPrompt: req.Prompt,
			PromptEnhanced: prompt != req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Model:          req.Model,
			Loras:          suggested,
			Strength:       strength,
			SourceImage:    sourceLabel(req.ImageURL),
		},
		Note: remixNote,
	}
	s.completeJob(jobID, resp)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) upscaleImage(c *gin.Context) {
	filename := filepath.Base(c.Param("filename"))
	req := api.DefaultUpscale()
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.ScaleFactor <= 0 || req.ScaleFactor > maxScaleFactor {
		fail(c, http.StatusBadRequest, fmt.Sprintf("scale_factor must be in (0, %.0f]", maxScaleFactor))
		return
	}

	img, err := s.openOutput(filename)
	if errors.Is(err, errImageMissing) {
		fail(c, http.StatusNotFound, fmt.Sprintf("File %s not found", filename))
		return
	}
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	jobID := s.startJob(c, "upscale", 1)
	b := img.Bounds()
	out := imageproc.Upscale(img, req.ScaleFactor, req.PreserveOriginalSize)
	name, err := s.saveImage("upscaled", out, "png")
	if err != nil {
		s.failJob(jobID, err)
		s.logger.Error("Failed to save upscaled image", zap.Error(err))
		fail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to upscale image: %v", err))
		return
	}
	s.metrics.imagesAdded("upscaled", 1)

	resp := models.ResizeData{
		URL:            s.imageURL(c, name),
		Width:          out.Bounds().Dx(),
		Height:         out.Bounds().Dy(),
		OriginalWidth:  b.Dx(),
		OriginalHeight: b.Dy(),
		ScaleFactor:    req.ScaleFactor,
		Upscaler:       req.Upscaler,
	}
	s.completeJob(jobID, resp)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) resizeImage(c *gin.Context) {
	var req api.ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	s.resize(c, req)
}

func (s *Server) wallpaper(c *gin.Context) {
	device := c.Param("device")
	if _, err := imageproc.Device(device); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	var req api.ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	req.Device = device
	req.Width, req.Height = 0, 0
	s.resize(c, req)
}

func (s *Server) resize(c *gin.Context, req api.ResizeRequest) {
	if req.Image == "" {
		fail(c, http.StatusBadRequest, "image is required")
		return
	}
	if _, err := imageproc.ParseFormat(req.OutputFormat); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	opts := imageproc.ResizeOptions{
		Width:               req.Width,
		Height:              req.Height,
		Device:              req.Device,
		MaintainAspectRatio: req.MaintainAspectRatio == nil || *req.MaintainAspectRatio,
		Fit:                 imageproc.ParseFitMethod(req.FitMethod),
	}
	if req.BackgroundColor != "" {
		bg, err := imageproc.ParseHexColor(req.BackgroundColor)
		if err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		opts.Background = bg
	}

	data, err := s.loadSource(c.Request.Context(), req.Image)
	if err != nil {
		fail(c, http.StatusBadRequest, fmt.Sprintf("Failed to load image: %v", err))
		return
	}
	img, err := imageproc.Decode(data)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	out, err := imageproc.Resize(img, opts)
	if errors.Is(err, imageproc.ErrUnknownDevice) || errors.Is(err, imageproc.ErrNoDimensions) {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to resize image: %v", err))
		return
	}

	name, err := s.saveImage("resized", out, req.OutputFormat)
	if err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to resize image: %v", err))
		return
	}
	s.metrics.imagesAdded("resized", 1)

	b := img.Bounds()
	c.JSON(http.StatusOK, models.ResizeData{
		URL:            s.imageURL(c, name),
		Width:          out.Bounds().Dx(),
		Height:         out.Bounds().Dy(),
		OriginalWidth:  b.Dx(),
		OriginalHeight: b.Dy(),
		FitMethod:      string(opts.Fit),
		Format:         imageproc.Extension(req.OutputFormat),
	})
}

func (s *Server) serveImage(c *gin.Context) {
	path := filepath.Join(s.cfg.OutputDir, filepath.Base(c.Param("filename")))
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		fail(c, http.StatusNotFound, "Image not found")
		return
	}
	c.File(path)
}

// loadSource resolves a data URL, a local /image/ URL or a remote URL.
func (s *Server) loadSource(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "data:") {
		if i := strings.Index(ref, ","); i >= 0 {
			ref = ref[i+1:]
		}
		return base64.StdEncoding.DecodeString(ref)
	}
	if i := strings.Index(ref, "/image/"); i >= 0 {
		path := filepath.Join(s.cfg.OutputDir, filepath.Base(ref[i+len("/image/"):]))
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
	}
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		data, err := base64.StdEncoding.DecodeString(ref)
		if err != nil {
			return nil, fmt.Errorf("image is neither a URL nor base64")
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download source: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxUploadBytes))
}

// sourceLabel shortens inline data URLs for logs and metadata.
func sourceLabel(ref string) string {
	if strings.HasPrefix(ref, "data:") {
		if i := strings.Index(ref, ","); i >= 0 {
			return ref[:i]
		}
	}
	return ref
}

func (s *Server) openOutput(filename string) (image.Image, error) {
	data, err := os.ReadFile(filepath.Join(s.cfg.OutputDir, filename))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errImageMissing
	}
	if err != nil {
		return nil, err
	}
	return imageproc.Decode(data)
}

func (s *Server) saveImage(prefix string, img image.Image, format string) (string, error) {
	var buf bytes.Buffer
	if err := imageproc.Encode(&buf, img, format); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.%s", prefix, uuid.NewString(), imageproc.Extension(format))
	return name, s.writeOutput(name, buf.Bytes())
}

func (s *Server) writeOutput(name string, data []byte) error {
	return os.WriteFile(filepath.Join(s.cfg.OutputDir, name), data, 0o644)
}

func (s *Server) imageURL(c *gin.Context, name string) string {
	base := strings.TrimRight(s.cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + "/image/" + name
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
