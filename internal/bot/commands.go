package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/acet/internal/api"
	"github.com/xaenox/acet/internal/conversation"
	"github.com/xaenox/acet/internal/glossary"
	"github.com/xaenox/acet/internal/models"
	"github.com/xaenox/acet/internal/orchestrator"
)

func (b *Bot) handleCommand(ctx context.Context, s *session, message *tgbotapi.Message) {
	args := strings.TrimSpace(message.CommandArguments())
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "lookup":
		b.handleLookup(ctx, s, args)
	case "glossary":
		b.handleGlossary(ctx, message)
	case "delete":
		b.handleDelete(ctx, message, args)
	case "sync":
		b.handleSync(ctx, message)
	case "reset":
		b.glossary.Reset()
		b.sendMessage(message.Chat.ID, "Glossary view reset to the server state.")
	case "rerun":
		b.handleRerun(ctx, s)
	case "remix":
		b.handleRemix(ctx, s, args)
	case "upscale":
		b.handleUpscale(ctx, s, args)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to acet! 📚
Ask me anything, send a photo with a question, or record a voice note.
Ask for a picture and I'll draw it.

Use /lookup <term> to get an explanation saved to your glossary.
Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/lookup <term> - Explain a term and save it to the glossary
/glossary - Show the glossary by category
/delete <id> - Delete a glossary term
/sync - Retry pending glossary deletions
/reset - Forget pending deletions and show the server glossary
/rerun - Send your last message again
/remix [N] [strength] - Remix image N of the last set (strength 0.3-1.0)
/upscale [N] [scale] - Upscale image N of the last set (scale up to 4)

You can send:
- Text messages
- Photos with captions
- Voice notes`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleLookup(ctx context.Context, s *session, term string) {
	if term == "" {
		b.sendMessage(s.chatID, "Usage: /lookup <term>")
		return
	}
	if _, err := s.lookup.Lookup(ctx, term); err != nil {
		b.logger.Error("Failed to look up term",
			zap.Error(err),
			zap.String("term", term),
			zap.Int64("chat_id", s.chatID))
		b.sendErrorMessage(s.chatID, "Sorry, I couldn't explain that. Please try again.")
	}
}

func (b *Bot) handleGlossary(ctx context.Context, message *tgbotapi.Message) {
	if err := b.glossary.Reload(ctx); err != nil {
		b.logger.Error("Failed to reload glossary", zap.Error(err))
		if !b.glossary.Loaded() {
			b.sendErrorMessage(message.Chat.ID, "Sorry, failed to retrieve the glossary. Please try again later.")
			return
		}
	}

	groups := b.glossary.Groups()
	if len(groups) == 0 {
		b.sendMessage(message.Chat.ID, "Your glossary is empty. Use /lookup <term> to add one.")
		return
	}
	b.sendMarkdown(message.Chat.ID, formatGlossary(groups, b.glossary.Pending()))
}

func formatGlossary(groups []models.CategoryGroup, pending []string) string {
	var sb strings.Builder
	sb.WriteString("*Your glossary:*\n")
	for _, g := range groups {
		fmt.Fprintf(&sb, "\n*%s* \\(%d\\)\n", escapeMarkdown(g.Category), len(g.Terms))
		for _, t := range g.Terms {
			fmt.Fprintf(&sb, "%s \\[%d\\]\n", escapeMarkdown(t.Term), t.ID)
		}
	}
	if len(pending) > 0 {
		fmt.Fprintf(&sb, "\n_%s_\n", escapeMarkdown(fmt.Sprintf("%d deletion(s) pending, /sync to retry", len(pending))))
	}
	return sb.String()
}

func (b *Bot) handleDelete(ctx context.Context, message *tgbotapi.Message, args string) {
	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		b.sendMessage(message.Chat.ID, "Usage: /delete <id>")
		return
	}
	term, known := b.glossary.Term(id)

	err = b.glossary.Delete(ctx, id)
	switch {
	case errors.Is(err, glossary.ErrUnknownTerm):
		b.sendMessage(message.Chat.ID, fmt.Sprintf("No glossary term with id %d.", id))
	case err != nil:
		b.sendMessage(message.Chat.ID, "Hidden. The server did not confirm the deletion yet; /sync retries it.")
	case known:
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Deleted %q.", term.Term))
	default:
		b.sendMessage(message.Chat.ID, "Deleted.")
	}
}

func (b *Bot) handleSync(ctx context.Context, message *tgbotapi.Message) {
	if err := b.glossary.Reload(ctx); err != nil {
		b.logger.Error("Failed to reload glossary", zap.Error(err))
	}
	b.glossary.Sync(ctx)
	pending := b.glossary.Pending()
	if len(pending) == 0 {
		b.sendMessage(message.Chat.ID, "Glossary is in sync.")
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("Still pending: %s", strings.Join(pending, ", ")))
}

func (b *Bot) handleRerun(ctx context.Context, s *session) {
	id, ok := conversation.LastUserText(s.store.Snapshot())
	if !ok {
		b.sendMessage(s.chatID, "Nothing to rerun yet.")
		return
	}
	if _, err := s.orch.Rerun(ctx, id); err != nil {
		b.logger.Error("Failed to rerun message", zap.Error(err), zap.String("message_id", id))
		b.sendErrorMessage(s.chatID, "Sorry, I couldn't rerun that message.")
	}
}

func (b *Bot) handleRemix(ctx context.Context, s *session, args string) {
	set, ok := conversation.LastImageSet(s.store.Snapshot())
	if !ok {
		b.sendMessage(s.chatID, "Generate some images first.")
		return
	}
	index, strength, err := orchestrator.ParseImageArgs(args, len(set.ImageURLs))
	if err != nil {
		b.sendMessage(s.chatID, "Usage: /remix [N] [strength]: "+err.Error())
		return
	}
	if _, err := s.orch.Remix(ctx, set.ID, set.ImageURLs[index], strength); err != nil {
		b.logger.Error("Failed to remix image", zap.Error(err), zap.String("message_id", set.ID))
		b.sendErrorMessage(s.chatID, "Sorry, I couldn't remix that image.")
	}
}

func (b *Bot) handleUpscale(ctx context.Context, s *session, args string) {
	set, ok := conversation.LastImageSet(s.store.Snapshot())
	if !ok {
		b.sendMessage(s.chatID, "Generate some images first.")
		return
	}
	index, scale, err := orchestrator.ParseImageArgs(args, len(set.ImageURLs))
	if err != nil {
		b.sendMessage(s.chatID, "Usage: /upscale [N] [scale]: "+err.Error())
		return
	}
	opts := api.DefaultUpscale()
	if scale > 0 {
		opts.ScaleFactor = scale
	}
	if _, err := s.orch.Upscale(ctx, set.ID, set.ImageURLs[index], opts); err != nil {
		b.logger.Error("Failed to upscale image", zap.Error(err), zap.String("message_id", set.ID))
		b.sendErrorMessage(s.chatID, "Sorry, I couldn't upscale that image.")
	}
}

func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}
