// Package lookup explains a selected phrase in the chat and files it in the
// glossary.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/acet/internal/api"
	"github.com/xaenox/acet/internal/conversation"
	"github.com/xaenox/acet/internal/models"
	"github.com/xaenox/acet/internal/typing"
)

const persistTimeout = 30 * time.Second

var ErrEmptySelection = errors.New("empty selection")

// Interpreter is the part of the relay a lookup needs.
type Interpreter interface {
	Interpret(ctx context.Context, req api.InterpretRequest) (*api.InterpretResponse, error)
}

// Reloader is told when the glossary gained a term.
type Reloader interface {
	Bump()
}

type Service struct {
	store    *conversation.Store
	typist   *typing.Engine
	relay    Interpreter
	glossary api.GlossaryStore
	reloader Reloader
	logger   *zap.Logger

	wg sync.WaitGroup
}

func New(store *conversation.Store, typist *typing.Engine, relay Interpreter, glossary api.GlossaryStore, reloader Reloader, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		typist:   typist,
		relay:    relay,
		glossary: glossary,
		reloader: reloader,
		logger:   logger,
	}
}

// UserMessage is the chat line shown for a lookup of term.
func UserMessage(term string) string {
	return `explain the "` + term + `" to me`
}

// Prompt asks for an explanation followed by a category tag line.
func Prompt(term string) string {
	return fmt.Sprintf("Explain %q clearly and concisely, as you would to a student meeting it for the first time. "+
		"Finish with one final line in exactly this format: CATEGORY: <one word naming the subject area>", term)
}

// Lookup explains selected in the conversation. It returns once the
// explanation is playing; the glossary entry is stored in the background
// and storage failures are only logged.
func (s *Service) Lookup(ctx context.Context, selected string) (string, error) {
	term := strings.TrimSpace(selected)
	if term == "" {
		return "", ErrEmptySelection
	}

	history := conversation.History(s.store.Snapshot())
	if err := s.store.Append(models.Message{
		ID:      s.store.NewID(models.RoleUser),
		Content: UserMessage(term),
		Kind:    models.KindText,
		IsUser:  true,
	}); err != nil {
		return "", fmt.Errorf("append user message: %w", err)
	}
	loadingID := s.store.NewID(models.RoleAssistant)
	if err := s.store.Append(models.Message{ID: loadingID, Kind: models.KindLoading}); err != nil {
		return "", fmt.Errorf("append placeholder: %w", err)
	}

	resp, err := s.relay.Interpret(ctx, api.InterpretRequest{Text: Prompt(term), History: history})
	s.store.RemoveWhere(conversation.ByID(loadingID))
	if err != nil {
		s.logger.Error("Failed to explain term", zap.Error(err), zap.String("term", term))
		return "", fmt.Errorf("interpret: %w", err)
	}

	explanation, category := ParseCategory(resp.Text())
	replyID := s.store.NewID(models.RoleAssistant)
	if _, err := s.typist.Play(ctx, explanation, replyID, nil); err != nil {
		return "", fmt.Errorf("play explanation: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.persist(term, explanation, category)
	}()
	return replyID, nil
}

func (s *Service) persist(term, explanation, category string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	saved, err := s.glossary.AddTerm(ctx, term, explanation, category)
	if err != nil {
		s.logger.Warn("Failed to save glossary term",
			zap.Error(err),
			zap.String("term", term),
			zap.String("category", category))
		return
	}
	s.logger.Info("Saved glossary term",
		zap.Int64("id", saved.ID),
		zap.String("term", saved.Term),
		zap.String("category", saved.Category))
	if s.reloader != nil {
		s.reloader.Bump()
	}
}

// Wait blocks until background persistence has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
