package models

// Network is one auxiliary network (LoRA) applied to a generation.
type Network struct {
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
}

// GenerationData is the metadata attached to a produced image set.
type GenerationData struct {
	Prompt         string             `json:"prompt"`
	OriginalPrompt string             `json:"original_prompt,omitempty"`
	PromptEnhanced bool               `json:"prompt_enhanced,omitempty"`
	NegativePrompt string             `json:"negative_prompt,omitempty"`
	Model          string             `json:"model"`
	Loras          map[string]Network `json:"loras,omitempty"`
	Strength       float64            `json:"strength,omitempty"`
	SourceImage    string             `json:"source_image,omitempty"`
}

// Clone copies the LoRA map.
func (g GenerationData) Clone() GenerationData {
	dup := g
	if g.Loras != nil {
		dup.Loras = make(map[string]Network, len(g.Loras))
		for k, v := range g.Loras {
			dup.Loras[k] = v
		}
	}
	return dup
}

// ResizeData records an upscale or resize applied to an image.
type ResizeData struct {
	URL            string  `json:"url"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	OriginalWidth  int     `json:"original_width"`
	OriginalHeight int     `json:"original_height"`
	ScaleFactor    float64 `json:"scale_factor,omitempty"`
	Upscaler       string  `json:"upscaler,omitempty"`
	FitMethod      string  `json:"fit_method,omitempty"`
	Format         string  `json:"format,omitempty"`
}
