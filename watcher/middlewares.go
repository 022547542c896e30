package watcher

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	// requestIDLen is a length of generated request ID in bytes.
	requestIDLen = 16
)

// BotLoggingMiddleware is a middleware that logs the start and stop of each request.
func BotLoggingMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		start := time.Now()
		requestID := generateRequestID()
		text := "undefined"

		defer func() {
			slog.InfoContext(ctx, "request stop", "id", requestID, "text", text, "duration", time.Since(start))
		}()

		var ok bool
		if text, ok = updateText(update); !ok {
			slog.WarnContext(ctx, "update is nil")
			return
		}

		slog.InfoContext(ctx, "request start", "id", requestID, "text", text)
		next(ctx, b, update)
	}
}

// BotAuthMiddleware is a middleware that allows only listed users to proceed.
// An empty list allows everyone.
func BotAuthMiddleware(userIDs map[int64]struct{}) func(next bot.HandlerFunc) bot.HandlerFunc {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			userID, chatID, ok := updateUser(update)
			if !ok {
				slog.WarnContext(ctx, "auth middleware: update is nil")
				return
			}

			if len(userIDs) > 0 && !allowed(userIDs, userID) {
				slog.InfoContext(ctx, "unauthorized user", "user_id", userID)
				sendErrorMessage(ctx, nil, b, chatID, "This bot is private.")
				return
			}

			slog.DebugContext(ctx, "authorized", "user", userID)
			next(ctx, b, update)
		}
	}
}

// BotAdminOnlyMiddleware is a middleware that allows only admin users to proceed.
func BotAdminOnlyMiddleware(adminUserIDs map[int64]struct{}) func(next bot.HandlerFunc) bot.HandlerFunc {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			userID, chatID, ok := updateUser(update)
			if !ok {
				slog.WarnContext(ctx, "admin middleware: update is nil")
				return
			}

			if !allowed(adminUserIDs, userID) {
				slog.InfoContext(ctx, "unauthorized admin user", "user_id", userID)
				sendErrorMessage(ctx, nil, b, chatID, "This command is only available to administrators.")
				return
			}

			slog.DebugContext(ctx, "authorized admin", "user", userID)
			next(ctx, b, update)
		}
	}
}

func allowed(userIDs map[int64]struct{}, userID int64) bool {
	_, ok := userIDs[userID]
	return ok
}

// generateRequestID generates a new request ID.
func generateRequestID() string {
	bytes := make([]byte, requestIDLen)
	_, err := io.ReadFull(rand.Reader, bytes)

	if err != nil {
		slog.Warn("failed to generate request ID", "error", err)
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}

	return hex.EncodeToString(bytes)
}

// updateText returns the message text or the callback data of the update.
func updateText(update *models.Update) (string, bool) {
	switch {
	case update == nil:
		return "", false
	case update.Message != nil && update.Message.From != nil:
		return update.Message.Text, true
	case update.CallbackQuery != nil:
		return update.CallbackQuery.Data, true
	default:
		return "", false
	}
}

// updateUser returns the sender and the chat of a message or a callback query.
func updateUser(update *models.Update) (int64, int64, bool) {
	switch {
	case update == nil:
		return 0, 0, false
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID, update.Message.Chat.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.Message.Message != nil:
		return update.CallbackQuery.From.ID, update.CallbackQuery.Message.Message.Chat.ID, true
	default:
		return 0, 0, false
	}
}
