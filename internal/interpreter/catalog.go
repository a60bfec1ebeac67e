package interpreter

import (
	"sort"
	"strings"

	"github.com/xaenox/acet/internal/models"
)

// DefaultLoRAStrength is applied to networks picked by trigger word.
const DefaultLoRAStrength = 0.75

const loraType = "Lora"

type BaseModel struct {
	Name  string `json:"name"`
	AIR   string `json:"air"`
	URL   string `json:"url,omitempty"`
	Style string `json:"style,omitempty"`
}

type LoRA struct {
	Name         string   `json:"name"`
	AIR          string   `json:"air"`
	BaseModel    string   `json:"base_model"`
	TriggerWords []string `json:"trigger_words"`
	URL          string   `json:"url,omitempty"`
}

// Catalog lists the checkpoints and LoRAs the relay may request.
type Catalog struct {
	BaseModels map[string]BaseModel
	LoRAs      map[string]LoRA
}

func DefaultCatalog() *Catalog {
	return &Catalog{
		BaseModels: map[string]BaseModel{
			"SD 1.5": {
				Name:  "SD 1.5",
				AIR:   "urn:air:sd1:checkpoint:civitai:15003@1460987",
				URL:   "https://civitai.com/models/15003/cyberrealistic?modelVersionId=1460987",
				Style: "realistic",
			},
			"Prefect illustrious XL": {
				Name:  "Prefect illustrious XL",
				AIR:   "urn:air:sdxl:checkpoint:civitai:1224788@1379960",
				URL:   "https://civitai.com/models/1224788/prefect-illustrious-xl",
				Style: "realistic",
			},
		},
		LoRAs: map[string]LoRA{
			"watercolor": {
				Name:         "watercolor",
				AIR:          "urn:air:sd1:lora:civitai:105784@113556",
				BaseModel:    "SD 1.5",
				TriggerWords: []string{"watercolor"},
				URL:          "https://civitai.com/models/105784/watercolor-or",
			},
			"neeko": {
				Name:      "neeko",
				AIR:       "urn:air:sd1:lora:civitai:52525@56990",
				BaseModel: "SD 1.5",
				TriggerWords: []string{
					"neeko",
					"facial marks, hair ornaments, hair flower, necklace, brown shorts, crop top, lizard tail",
				},
				URL: "https://civitai.com/models/52525/neeko-league-of-legends-lora",
			},
		},
	}
}

// ModelURN returns the AIR of a named base model.
func (c *Catalog) ModelURN(name string) (string, bool) {
	m, ok := c.BaseModels[name]
	return m.AIR, ok
}

// ModelNames returns the base model names in sorted order.
func (c *Catalog) ModelNames() []string {
	names := make([]string, 0, len(c.BaseModels))
	for name := range c.BaseModels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DetectLoRAs picks every LoRA whose trigger word appears in the prompt.
func (c *Catalog) DetectLoRAs(prompt string) map[string]models.Network {
	lower := strings.ToLower(prompt)
	found := make(map[string]models.Network)
	for _, l := range c.LoRAs {
		for _, word := range l.TriggerWords {
			if strings.Contains(lower, strings.ToLower(word)) {
				found[l.AIR] = models.Network{Type: loraType, Strength: DefaultLoRAStrength}
				break
			}
		}
	}
	return found
}

// ResolveLoRA maps either a LoRA URN or a catalog name to its URN.
func (c *Catalog) ResolveLoRA(key string) (string, bool) {
	if strings.Contains(key, ":lora:") {
		return key, true
	}
	if l, ok := c.LoRAs[key]; ok {
		return l.AIR, true
	}
	return "", false
}

func (c *Catalog) describeLoRAs() string {
	names := make([]string, 0, len(c.LoRAs))
	for name := range c.LoRAs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		l := c.LoRAs[name]
		quoted := make([]string, len(l.TriggerWords))
		for i, w := range l.TriggerWords {
			quoted[i] = `"` + w + `"`
		}
		b.WriteString("- " + name + " (" + l.AIR + "): Best for " + l.BaseModel +
			". Trigger words: " + strings.Join(quoted, ", ") + "\n")
	}
	return b.String()
}
