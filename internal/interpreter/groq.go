package interpreter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/acet/internal/models"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.groq.com/openai/v1"

var ErrEmptyResponse = errors.New("model returned no choices")

type Config struct {
	APIKey             string
	BaseURL            string
	Model              string
	EnhanceModel       string
	VisionModel        string
	TranscriptionModel string
	MaxTokens          int
	Temperature        float64
}

// Result is the structured reply of Interpret.
type Result struct {
	Type      string `json:"type"`
	Response  string `json:"response"`
	NumImages int    `json:"num_images,omitempty"`
}

type Interpreter interface {
	Interpret(ctx context.Context, text string, history []models.HistoryEntry, images []models.Attachment) (Result, error)
	EnhancePrompt(ctx context.Context, prompt string) (string, map[string]models.Network, error)
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

type GroqInterpreter struct {
	client   *openai.Client
	cfg      Config
	catalog  *Catalog
	fallback *KeywordClassifier
	logger   *zap.Logger
}

func NewGroqInterpreter(cfg Config, catalog *Catalog, logger *zap.Logger) *GroqInterpreter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = DefaultBaseURL
	}
	if cfg.EnhanceModel == "" {
		cfg.EnhanceModel = cfg.Model
	}
	return &GroqInterpreter{
		client:   openai.NewClientWithConfig(clientCfg),
		cfg:      cfg,
		catalog:  catalog,
		fallback: NewKeywordClassifier(),
		logger:   logger,
	}
}

const interpretPrompt = `Don't worry about formalities.
Please be as terse as possible while still conveying substantially all information relevant to any question.
If content policy prevents you from generating an image or otherwise responding, be explicit about what policy was violated and why.
Please don't use too many words as to not to overwhelm the user. Consider that you're talking to a student who might be clueless.

Decide whether the user wants a text answer or wants images produced:
- "txt" for a text answer
- "txt2img" when the user asks for a new image
- "img2img" when the user attached images and asks to change them
For image requests, "response" is a one-sentence note on what will be drawn and "num_images" is how many images were asked for (default 1, at most %d).

IMPORTANT: You must respond in JSON format with the following structure:
{
  "type": "txt",
  "response": "Your helpful response to the user's query",
  "num_images": 1
}`

// Interpret answers the user or classifies the message as an image request.
func (g *GroqInterpreter) Interpret(ctx context.Context, text string, history []models.HistoryEntry, images []models.Attachment) (Result, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(interpretPrompt, MaxImages)},
	}
	for _, h := range history {
		role := openai.ChatMessageRoleAssistant
		if h.IsUser {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: h.Content})
	}

	model := g.cfg.Model
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text}
	if len(images) > 0 && g.cfg.VisionModel != "" {
		model = g.cfg.VisionModel
		user = visionMessage(text, images)
	}
	messages = append(messages, user)

	content, err := g.complete(ctx, model, messages, g.cfg.MaxTokens, g.cfg.Temperature)
	if err != nil {
		intent := g.fallback.Classify(text, len(images) > 0)
		if intent.Type == TypeText {
			return Result{}, err
		}
		g.logger.Warn("Failed to interpret with LLM, using keyword classifier",
			zap.Error(err),
			zap.String("intent", intent.Type))
		return Result{
			Type:      intent.Type,
			Response:  "Generating your image.",
			NumImages: intent.NumImages,
		}, nil
	}

	var result Result
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		g.logger.Error("Failed to parse LLM response",
			zap.Error(err),
			zap.String("response", content))
		return Result{}, fmt.Errorf("decode interpretation: %w", err)
	}
	return g.normalize(result, text, len(images) > 0), nil
}

func (g *GroqInterpreter) normalize(r Result, text string, hasImages bool) Result {
	switch r.Type {
	case TypeText:
		r.NumImages = 0
	case TypeTextToImage, TypeImageToImage:
		r.NumImages = ClampImages(r.NumImages)
	default:
		intent := g.fallback.Classify(text, hasImages)
		r.Type = intent.Type
		r.NumImages = intent.NumImages
		if r.Type == TypeText {
			r.NumImages = 0
		}
	}
	return r
}

func visionMessage(text string, images []models.Attachment) openai.ChatCompletionMessage {
	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: text}}
	for _, img := range images {
		contentType := img.ContentType
		if contentType == "" {
			contentType = "image/png"
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

type enhancement struct {
	EnhancedPrompt string                     `json:"enhanced_prompt"`
	LoRAs          map[string]json.RawMessage `json:"loras"`
}

const enhancePrompt = `You are an expert in analyzing and enhancing image generation prompts for Stable Diffusion.

Your task is to:
1. Analyze the user's prompt
2. Enhance the prompt with more details in the proper format for Stable Diffusion
3. Identify which of our available LoRAs (style modifiers) would be appropriate to use

STABLE DIFFUSION PROMPT FORMAT GUIDELINES:
- Format the prompt as a detailed, comma-separated list of descriptive words and phrases
- Arrange elements with the most important elements at the beginning
- Use parentheses () to increase emphasis on important features
- If using LoRAs, include their trigger words near the beginning of the prompt
- Add quality boosters like "high quality", "detailed", "8k" as appropriate
- Include materials, lighting, mood and color information when relevant

AVAILABLE LORAS:
%s
RESPONSE FORMAT:
You must respond in JSON format with the following structure:
{
  "loras": {
    "<air>": {"type": "Lora", "strength": 0.75}
  },
  "enhanced_prompt": "detailed, comma-separated, prompt, with (emphasis) on important, elements"
}

Only include LoRAs that truly match the prompt's style or content. If none match, return an empty object {}.
The strength should be between 0.5 (subtle effect) and 1.0 (strong effect).`

// EnhancePrompt rewrites the prompt for Stable Diffusion and suggests LoRAs.
// On any failure the original prompt is returned together with the error.
func (g *GroqInterpreter) EnhancePrompt(ctx context.Context, prompt string) (string, map[string]models.Network, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(enhancePrompt, g.catalog.describeLoRAs())},
		{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Analyze and enhance this image generation prompt: '%s'", prompt)},
	}

	content, err := g.complete(ctx, g.cfg.EnhanceModel, messages, 1024, 0.2)
	if err != nil {
		return prompt, nil, err
	}

	var data enhancement
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return prompt, nil, fmt.Errorf("decode enhancement: %w", err)
	}

	enhanced := strings.TrimSpace(data.EnhancedPrompt)
	if enhanced == "" {
		enhanced = prompt
	}

	networks := make(map[string]models.Network)
	for key, raw := range data.LoRAs {
		var n models.Network
		if err := json.Unmarshal(raw, &n); err != nil {
			continue
		}
		urn, ok := g.catalog.ResolveLoRA(key)
		if !ok {
			g.logger.Warn("Unknown LoRA suggested", zap.String("key", key))
			continue
		}
		if n.Type == "" {
			n.Type = loraType
		}
		if n.Strength == 0 {
			n.Strength = DefaultLoRAStrength
		}
		networks[urn] = n
	}

	g.logger.Info("Enhanced prompt",
		zap.String("original", prompt),
		zap.Int("loras", len(networks)))
	return enhanced, networks, nil
}

// Transcribe relays audio to the Whisper endpoint.
func (g *GroqInterpreter) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	resp, err := g.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    g.cfg.TranscriptionModel,
		FilePath: filename,
		Reader:   audio,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (g *GroqInterpreter) complete(ctx context.Context, model string, messages []openai.ChatCompletionMessage, maxTokens int, temperature float64) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		g.logger.Error("Failed to get LLM response", zap.Error(err), zap.String("model", model))
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
