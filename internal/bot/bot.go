package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/acet/internal/api"
	"github.com/xaenox/acet/internal/conversation"
	"github.com/xaenox/acet/internal/glossary"
	"github.com/xaenox/acet/internal/lookup"
	"github.com/xaenox/acet/internal/models"
	"github.com/xaenox/acet/internal/orchestrator"
	"github.com/xaenox/acet/internal/typing"
)

const (
	downloadTimeout = time.Minute
	maxDownload     = 25 << 20
	maxMediaGroup   = 10
)

// Relay is everything the bot asks of the relay.
type Relay interface {
	api.Relay
	api.GlossaryStore
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

type Options struct {
	AllowedUsers   []int64
	TypingInterval time.Duration
	Orchestrator   orchestrator.Config
}

type Bot struct {
	api      *tgbotapi.BotAPI
	relay    Relay
	glossary *glossary.View
	opts     Options
	logger   *zap.Logger
	http     *http.Client

	mu       sync.Mutex
	sessions map[int64]*session
}

// session is one chat's conversation and the jobs running against it.
type session struct {
	chatID int64
	store  *conversation.Store
	orch   *orchestrator.Orchestrator
	lookup *lookup.Service
	stop   context.CancelFunc
	done   chan struct{}
}

func New(token string, relay Relay, view *glossary.View, opts Options, logger *zap.Logger) (*Bot, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:      botAPI,
		relay:    relay,
		glossary: view,
		opts:     opts,
		logger:   logger,
		http:     &http.Client{Timeout: downloadTimeout},
		sessions: make(map[int64]*session),
	}, nil
}

// Start handles updates until ctx ends, then cancels every session.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.closeSessions()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) allowed(userID int64) bool {
	if len(b.opts.AllowedUsers) == 0 {
		return true
	}
	for _, id := range b.opts.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *Bot) session(ctx context.Context, chatID int64) *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[chatID]; ok {
		return s
	}

	store := conversation.NewStore()
	typist := typing.NewEngine(store, b.opts.TypingInterval)
	logger := b.logger.With(zap.Int64("chat_id", chatID))
	s := &session{
		chatID: chatID,
		store:  store,
		orch:   orchestrator.New(store, typist, b.relay, b.opts.Orchestrator, logger),
		lookup: lookup.New(store, typist, b.relay, b.relay, b.glossary, logger),
		done:   make(chan struct{}),
	}
	renderCtx, stop := context.WithCancel(ctx)
	s.stop = stop
	go b.render(renderCtx, s)
	b.sessions[chatID] = s
	return s
}

func (b *Bot) closeSessions() {
	b.mu.Lock()
	sessions := make([]*session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.sessions = make(map[int64]*session)
	b.mu.Unlock()

	for _, s := range sessions {
		s.orch.Close()
		s.lookup.Wait()
		s.stop()
		<-s.done
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil || !b.allowed(message.From.ID) {
		return
	}
	s := b.session(ctx, message.Chat.ID)

	if message.IsCommand() {
		b.handleCommand(ctx, s, message)
		return
	}

	switch {
	case message.Voice != nil:
		b.handleVoice(ctx, s, message.Voice.FileID, message.Voice.MimeType)
	case message.Audio != nil:
		b.handleVoice(ctx, s, message.Audio.FileID, message.Audio.MimeType)
	case len(message.Photo) > 0:
		b.handlePhoto(ctx, s, message)
	case message.Text != "":
		b.send(ctx, s, message.Text, nil)
	}
}

func (b *Bot) send(ctx context.Context, s *session, text string, files []models.Attachment) {
	if _, err := s.orch.Send(ctx, text, files); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", s.chatID))
		b.sendErrorMessage(s.chatID, "Sorry, I couldn't process your message. Please try again.")
	}
}

func (b *Bot) handlePhoto(ctx context.Context, s *session, message *tgbotapi.Message) {
	largest := message.Photo[len(message.Photo)-1]
	data, err := b.downloadFile(ctx, largest.FileID)
	if err != nil {
		b.logger.Error("Failed to download photo", zap.Error(err), zap.Int64("chat_id", s.chatID))
		b.sendErrorMessage(s.chatID, "Sorry, I couldn't read that photo.")
		return
	}

	text := message.Caption
	if text == "" {
		text = "Describe this image."
	}
	b.send(ctx, s, text, []models.Attachment{{
		Name:        largest.FileUniqueID + ".jpg",
		ContentType: "image/jpeg",
		Data:        data,
	}})
}

func (b *Bot) handleVoice(ctx context.Context, s *session, fileID, mimeType string) {
	data, err := b.downloadFile(ctx, fileID)
	if err != nil {
		b.logger.Error("Failed to download voice note", zap.Error(err), zap.Int64("chat_id", s.chatID))
		b.sendErrorMessage(s.chatID, "Sorry, I couldn't read that voice note.")
		return
	}

	text, err := b.relay.Transcribe(ctx, audioName(mimeType), bytes.NewReader(data))
	if err != nil {
		b.logger.Error("Failed to transcribe voice note", zap.Error(err), zap.Int64("chat_id", s.chatID))
		b.sendErrorMessage(s.chatID, "Sorry, I couldn't transcribe that voice note.")
		return
	}
	if strings.TrimSpace(text) == "" {
		b.sendMessage(s.chatID, "I didn't catch anything in that recording.")
		return
	}
	b.sendMessage(s.chatID, "🎙 "+text)
	b.send(ctx, s, text, nil)
}

func audioName(mimeType string) string {
	switch mimeType {
	case "audio/mpeg":
		return "voice.mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "voice.m4a"
	case "audio/wav", "audio/x-wav":
		return "voice.wav"
	case "audio/webm":
		return "voice.webm"
	}
	return "voice.ogg"
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	link, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}
	return b.download(ctx, link)
}

func (b *Bot) download(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDownload {
		return nil, errors.New("download too large")
	}
	return data, nil
}

// render mirrors store changes and orchestrator errors into the chat.
func (b *Bot) render(ctx context.Context, s *session) {
	defer close(s.done)
	changes, cancel := s.store.Subscribe()
	defer cancel()

	r := newRenderer()
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-s.orch.Errors():
			b.sendErrorMessage(s.chatID, text)
			s.orch.DismissError()
		case <-changes:
			for _, st := range r.plan(s.store.Snapshot()) {
				b.apply(ctx, s.chatID, r, st)
			}
		}
	}
}

func (b *Bot) apply(ctx context.Context, chatID int64, r *renderer, st step) {
	switch st.kind {
	case stepTyping:
		if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
			b.logger.Debug("Failed to send chat action", zap.Error(err))
		}

	case stepSend:
		sent, err := b.api.Send(tgbotapi.NewMessage(chatID, st.text))
		if err != nil {
			b.logger.Error("Failed to send message", zap.Error(err), zap.Int64("chat_id", chatID))
			return
		}
		r.bind(st.id, sent.MessageID)

	case stepEdit:
		if st.chatID == 0 {
			return
		}
		if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, st.chatID, st.text)); err != nil {
			b.logger.Debug("Failed to edit progress message", zap.Error(err))
		}

	case stepDelete:
		if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, st.chatID)); err != nil {
			b.logger.Debug("Failed to delete message", zap.Error(err))
		}

	case stepPhotos:
		b.sendPhotos(ctx, chatID, r, st)
	}
}

func (b *Bot) sendPhotos(ctx context.Context, chatID int64, r *renderer, st step) {
	var files []tgbotapi.FileBytes
	for i, link := range st.urls {
		if i == maxMediaGroup {
			break
		}
		data, err := b.download(ctx, link)
		if err != nil {
			b.logger.Error("Failed to fetch generated image", zap.Error(err), zap.String("url", link))
			continue
		}
		files = append(files, tgbotapi.FileBytes{Name: fmt.Sprintf("image_%d.png", i+1), Bytes: data})
	}

	switch len(files) {
	case 0:
		b.sendErrorMessage(chatID, "Sorry, I couldn't fetch the generated images.")

	case 1:
		photo := tgbotapi.NewPhoto(chatID, files[0])
		photo.Caption = st.text
		sent, err := b.api.Send(photo)
		if err != nil {
			b.logger.Error("Failed to send photo", zap.Error(err), zap.Int64("chat_id", chatID))
			return
		}
		r.bind(st.id, sent.MessageID)

	default:
		media := make([]interface{}, len(files))
		for i, f := range files {
			photo := tgbotapi.NewInputMediaPhoto(f)
			if i == 0 {
				photo.Caption = st.text
			}
			media[i] = photo
		}
		sent, err := b.api.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, media))
		if err != nil {
			b.logger.Error("Failed to send photos", zap.Error(err), zap.Int64("chat_id", chatID))
			return
		}
		if len(sent) > 0 {
			r.bind(st.id, sent[0].MessageID)
		}
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "MarkdownV2"
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
