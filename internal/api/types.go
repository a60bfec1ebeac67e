package api

import "github.com/xaenox/acet/internal/models"

// Interpretation types returned by /interpret.
const (
	TypeText         = "txt"
	TypeTextToImage  = "txt2img"
	TypeImageToImage = "img2img"
)

// ImagesField is the multipart key of /interpret image uploads.
const ImagesField = "images[]"

// JobIDHeader carries a caller-chosen job id so progress can be polled.
const JobIDHeader = "X-Job-ID"

// InterpretRequest is the form body of /interpret.
type InterpretRequest struct {
	Text    string
	Images  []models.Attachment
	History []models.HistoryEntry
}

// InterpretResponse mirrors /interpret.
type InterpretResponse struct {
	Type         string `json:"type"`
	Response     string `json:"response,omitempty"`
	ResponseText string `json:"response_text,omitempty"`
	NumImages    int    `json:"num_images,omitempty"`
}

// Text returns whichever response field the relay filled.
func (r InterpretResponse) Text() string {
	if r.Response != "" {
		return r.Response
	}
	return r.ResponseText
}

// IsGeneration reports whether the interpreter asked for image generation.
func (r InterpretResponse) IsGeneration() bool {
	return r.Type == TypeTextToImage || r.Type == TypeImageToImage
}

// GenerateRequest is the JSON body of /generate-image.
type GenerateRequest struct {
	Prompt             string                    `json:"prompt"`
	NegativePrompt     string                    `json:"negative_prompt,omitempty"`
	Model              string                    `json:"model"`
	ModelURN           string                    `json:"model_urn,omitempty"`
	Width              int                       `json:"width,omitempty"`
	Height             int                       `json:"height,omitempty"`
	Steps              int                       `json:"num_inference_steps,omitempty"`
	GuidanceScale      float64                   `json:"guidance_scale,omitempty"`
	NumImages          int                       `json:"num_images,omitempty"`
	AdditionalNetworks map[string]models.Network `json:"additional_networks,omitempty"`
}

// RemixRequest is the JSON body of /remix-image.
type RemixRequest struct {
	ImageURL           string                    `json:"image_url"`
	Prompt             string                    `json:"prompt"`
	NegativePrompt     string                    `json:"negative_prompt,omitempty"`
	Model              string                    `json:"model"`
	ModelURN           string                    `json:"model_urn,omitempty"`
	AdditionalNetworks map[string]models.Network `json:"additional_networks,omitempty"`
	NumImages          int                       `json:"num_images"`
	Width              int                       `json:"width,omitempty"`
	Height             int                       `json:"height,omitempty"`
	Steps              int                       `json:"num_inference_steps,omitempty"`
	GuidanceScale      float64                   `json:"guidance_scale,omitempty"`
	Strength           float64                   `json:"strength"`
}

// ImageSetResponse mirrors /generate-image and /remix-image.
type ImageSetResponse struct {
	JobID          string                 `json:"job_id,omitempty"`
	ImageURLs      []string               `json:"image_urls"`
	CivitaiJobIDs  []string               `json:"civitai_job_ids,omitempty"`
	GenerationData *models.GenerationData `json:"generation_data,omitempty"`
	RemixData      *models.GenerationData `json:"remix_data,omitempty"`
	Note           string                 `json:"note,omitempty"`
}

// Data returns the generation metadata regardless of which key carried it.
func (r ImageSetResponse) Data() *models.GenerationData {
	if r.GenerationData != nil {
		return r.GenerationData
	}
	return r.RemixData
}

// UpscaleRequest is the JSON body of /upscale-image/{filename}.
type UpscaleRequest struct {
	ScaleFactor          float64 `json:"scale_factor"`
	Upscaler             string  `json:"upscaler"`
	DenoiseStrength      float64 `json:"denoise_strength"`
	EnhanceFaces         bool    `json:"enhance_faces"`
	PreserveOriginalSize bool    `json:"preserve_original_size"`
}

// DefaultUpscale mirrors the relay defaults.
func DefaultUpscale() UpscaleRequest {
	return UpscaleRequest{ScaleFactor: 2.0, Upscaler: "4x-UltraSharp", DenoiseStrength: 0.4}
}

// ResizeRequest is the JSON body of /resize-image and /wallpaper/{device}.
type ResizeRequest struct {
	Image               string `json:"image"`
	Width               int    `json:"width,omitempty"`
	Height              int    `json:"height,omitempty"`
	Device              string `json:"device,omitempty"`
	MaintainAspectRatio *bool  `json:"maintain_aspect_ratio,omitempty"`
	FitMethod           string `json:"fit_method,omitempty"`
	OutputFormat        string `json:"output_format,omitempty"`
	BackgroundColor     string `json:"background_color,omitempty"`
}

// TranscribeResponse mirrors /api/transcribe.
type TranscribeResponse struct {
	Text    string `json:"text,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// AddTermRequest is the JSON body of POST /glossary.
type AddTermRequest struct {
	Term        string `json:"term"`
	Explanation string `json:"explanation"`
	Category    string `json:"category"`
}

// TermListResponse mirrors GET /glossary.
type TermListResponse struct {
	Terms []models.GlossaryTerm `json:"terms"`
}

// CategoryListResponse mirrors GET /glossary/categories.
type CategoryListResponse struct {
	Categories []models.CategoryGroup `json:"categories"`
}

// DeleteResponse mirrors the glossary delete endpoints.
type DeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

// ErrorResponse is the error body every relay endpoint uses.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
