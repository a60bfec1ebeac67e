package models

import "time"

// MessageKind tags what a conversation entry currently represents.
type MessageKind string

const (
	KindText            MessageKind = "text"
	KindLoading         MessageKind = "loading"
	KindGeneratingImage MessageKind = "generating-image"
	KindGeneratedImage  MessageKind = "generated-image"
	KindTyping          MessageKind = "typing"
)

// IsPlaceholder reports whether the kind marks provisional, in-progress work.
func (k MessageKind) IsPlaceholder() bool {
	switch k {
	case KindLoading, KindGeneratingImage, KindTyping:
		return true
	}
	return false
}

// Role tags used when deriving message identities.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat session.
type Message struct {
	ID      string       `json:"id"`
	Content string       `json:"content"`
	Kind    MessageKind  `json:"type"`
	IsUser  bool         `json:"isUser"`
	Files   []Attachment `json:"files,omitempty"`

	ImageURLs      []string        `json:"image_urls,omitempty"`
	GenerationData *GenerationData `json:"generation_data,omitempty"`
	ResizeData     *ResizeData     `json:"resize_data,omitempty"`

	Progress          int  `json:"progress,omitempty"`
	ProgressEstimated bool `json:"progress_estimated,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy so snapshots never share slices or pointers.
func (m Message) Clone() Message {
	dup := m
	if m.Files != nil {
		dup.Files = make([]Attachment, len(m.Files))
		copy(dup.Files, m.Files)
	}
	if m.ImageURLs != nil {
		dup.ImageURLs = append([]string(nil), m.ImageURLs...)
	}
	if m.GenerationData != nil {
		gd := m.GenerationData.Clone()
		dup.GenerationData = &gd
	}
	if m.ResizeData != nil {
		rd := *m.ResizeData
		dup.ResizeData = &rd
	}
	return dup
}

// Attachment is a user-supplied input file (image or audio).
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// HistoryEntry is the wire form of prior conversation turns sent to the interpreter.
type HistoryEntry struct {
	Content string      `json:"content"`
	IsUser  bool        `json:"isUser"`
	Type    MessageKind `json:"type"`
}
