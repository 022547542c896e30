// Package watcher provides the Telegram bot that shows readings and forecasts.
package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/z0rr0/wattcast/config"
	"github.com/z0rr0/wattcast/databaser"
	"github.com/z0rr0/wattcast/plotter"
	"github.com/z0rr0/wattcast/refresher"
	"github.com/z0rr0/wattcast/series"
)

// Bot commands.
const (
	CmdStart    = "start"
	CmdStats    = "stats"
	CmdHistory  = "history"
	CmdForecast = "forecast"
	CmdLatest   = "latest"
	CmdRefresh  = "refresh"

	CallbackPrefix = "/period"

	callbackDay   = CallbackPrefix + "Day"
	callbackWeek  = CallbackPrefix + "Week"
	callbackMonth = CallbackPrefix + "Month"

	dateTimeFormat = "02.01.2006 15:04"
	contextHours   = 72 // history hours drawn before a forecast
)

// Commands is the bot menu.
var Commands = []models.BotCommand{ //nolint:gochecknoglobals
	{Command: CmdStart, Description: "choose a history period"},
	{Command: CmdStats, Description: "stored readings"},
	{Command: CmdHistory, Description: "last week of readings"},
	{Command: CmdForecast, Description: "forecast [hours]"},
	{Command: CmdLatest, Description: "latest stored forecast"},
}

// BotAPI is the part of the Telegram client used by handlers.
type BotAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// Forecaster runs forecasts on demand.
type Forecaster interface {
	Forecast(ctx context.Context, horizon int) (*refresher.Forecast, error)
	Refresh(ctx context.Context) error
}

type BotHandler struct {
	db         *databaser.DB
	cfg        *config.Config
	forecaster Forecaster
}

func NewBotHandler(db *databaser.DB, cfg *config.Config, f Forecaster) *BotHandler {
	return &BotHandler{db: db, cfg: cfg, forecaster: f}
}

// WrapDefaultHandler wraps HandleDefault to match bot.HandlerFunc signature.
func (h *BotHandler) WrapDefaultHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.HandleDefault(ctx, b, update)
}

// WrapHandleStart wraps HandleStart to match bot.HandlerFunc signature.
func (h *BotHandler) WrapHandleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.HandleStart(ctx, b, update)
}

// WrapHandleCallback wraps HandleCallback to match bot.HandlerFunc signature.
func (h *BotHandler) WrapHandleCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.HandleCallback(ctx, b, update)
}

// WrapHandleStats wraps HandleStats to match bot.HandlerFunc signature.
func (h *BotHandler) WrapHandleStats(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.HandleStats(ctx, b, update)
}

// WrapHandleHistory wraps HandleHistory to match bot.HandlerFunc signature.
func (h *BotHandler) WrapHandleHistory(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.HandleHistory(ctx, b, update)
}

// WrapHandleForecast wraps HandleForecast to match bot.HandlerFunc signature.
func (h *BotHandler) WrapHandleForecast(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.HandleForecast(ctx, b, update)
}

// WrapHandleLatest wraps HandleLatest to match bot.HandlerFunc signature.
func (h *BotHandler) WrapHandleLatest(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.HandleLatest(ctx, b, update)
}

// WrapHandleRefresh wraps HandleRefresh to match bot.HandlerFunc signature.
func (h *BotHandler) WrapHandleRefresh(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.HandleRefresh(ctx, b, update)
}

// HandleDefault answers unknown messages with the command list.
func (h *BotHandler) HandleDefault(ctx context.Context, b BotAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString("Available commands:\n")
	for _, cmd := range Commands {
		sb.WriteString("/")
		sb.WriteString(cmd.Command)
		sb.WriteString(" - ")
		sb.WriteString(cmd.Description)
		sb.WriteString("\n")
	}

	sendMessage(ctx, b, update.Message.Chat.ID, sb.String())
}

func (h *BotHandler) HandleStart(ctx context.Context, b BotAPI, update *models.Update) {
	kb := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "📅 Day", CallbackData: callbackDay},
			},
			{
				{Text: "📆 Week", CallbackData: callbackWeek},
			},
			{
				{Text: "🗓 Month", CallbackData: callbackMonth},
			},
		},
	}

	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      update.Message.Chat.ID,
		Text:        "Choose a period of readings to show",
		ReplyMarkup: kb,
	})

	if err != nil {
		slog.Error("send message", "error", err)
	}
}

func (h *BotHandler) HandleCallback(ctx context.Context, b BotAPI, update *models.Update) {
	start := time.Now()
	defer func() {
		slog.InfoContext(ctx, "handle callback completed", "duration", time.Since(start))
	}()

	if update.CallbackQuery == nil || update.CallbackQuery.Message.Message == nil {
		slog.WarnContext(ctx, "callback without message")
		return
	}

	_, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: update.CallbackQuery.ID,
	})

	if err != nil {
		slog.Error("answer callback query", "error", err)
	}

	chatID := update.CallbackQuery.Message.Message.Chat.ID
	period := update.CallbackQuery.Data
	slog.DebugContext(ctx, "callback", "chatID", chatID, "userID", update.CallbackQuery.From.ID, "period", period)

	var hours int

	switch period {
	case callbackDay:
		hours = 24
	case callbackWeek:
		hours = 7 * 24
	case callbackMonth:
		hours = 30 * 24
	default:
		return
	}

	h.sendHistory(ctx, b, chatID, hours)
}

// HandleStats sends the number and the range of stored readings.
func (h *BotHandler) HandleStats(ctx context.Context, b BotAPI, update *models.Update) {
	chatID := update.Message.Chat.ID

	ctx, cancel := context.WithTimeout(ctx, h.cfg.Database.Timeout)
	defer cancel()

	stats, err := h.db.GetReadingStats(ctx)
	if err != nil {
		sendErrorMessage(ctx, err, b, chatID, "Failed to get readings statistics")
		return
	}

	if stats.Count == 0 {
		sendMessage(ctx, b, chatID, "No readings yet")
		return
	}

	text := fmt.Sprintf(
		"Readings: %d\nFirst: %s\nLast: %s",
		stats.Count,
		stats.First.Format(dateTimeFormat),
		stats.Last.Format(dateTimeFormat),
	)
	sendMessage(ctx, b, chatID, text)
}

// HandleHistory sends a plot of the last week of readings.
func (h *BotHandler) HandleHistory(ctx context.Context, b BotAPI, update *models.Update) {
	h.sendHistory(ctx, b, update.Message.Chat.ID, 7*24)
}

// HandleForecast runs a forecast for "/forecast [hours]" and sends its plot and CSV.
func (h *BotHandler) HandleForecast(ctx context.Context, b BotAPI, update *models.Update) {
	start := time.Now()
	chatID := update.Message.Chat.ID

	horizon, err := parseHorizon(update.Message.Text, h.cfg.Forecast.Horizon, h.cfg.Forecast.MaxHorizon)
	if err != nil {
		sendErrorMessage(ctx, err, b, chatID, fmt.Sprintf("Usage: /%s [hours], from 1 to %d", CmdForecast, h.cfg.Forecast.MaxHorizon))
		return
	}

	if h.forecaster == nil {
		sendErrorMessage(ctx, nil, b, chatID, "Forecasts are not available")
		return
	}

	f, err := h.forecaster.Forecast(ctx, horizon)
	if err != nil {
		if errors.Is(err, refresher.ErrNoReadings) {
			sendErrorMessage(ctx, err, b, chatID, "No readings to forecast from")
			return
		}
		sendErrorMessage(ctx, err, b, chatID, "Failed to run the forecast")
		return
	}

	history, err := f.History.Tail(contextHours).Points(h.cfg.Forecast.Target)
	if err != nil {
		sendErrorMessage(ctx, err, b, chatID, "Failed to read the forecast history")
		return
	}

	caption := fmt.Sprintf("%s, %d hours, %s", f.Run.Predictor, horizon, time.Since(start).Round(time.Millisecond))
	h.sendForecast(ctx, b, chatID, history, f.Result.Steps, caption)
}

// HandleLatest sends the last stored forecast run with the readings it started from.
func (h *BotHandler) HandleLatest(ctx context.Context, b BotAPI, update *models.Update) {
	chatID := update.Message.Chat.ID

	queryCtx, cancel := context.WithTimeout(ctx, h.cfg.Database.Timeout)
	defer cancel()

	run, err := h.db.GetLatestRun(queryCtx, h.cfg.Base.TimeLocation)
	if err != nil {
		if errors.Is(err, databaser.ErrRunNotFound) {
			sendErrorMessage(ctx, err, b, chatID, "No stored forecasts yet")
			return
		}
		sendErrorMessage(ctx, err, b, chatID, "Failed to get the latest forecast")
		return
	}

	history, err := h.runHistory(queryCtx, run)
	if err != nil {
		slog.WarnContext(ctx, "latest forecast history", "error", err)
	}

	caption := fmt.Sprintf(
		"%s, %d hours, created %s",
		run.Predictor, run.Horizon, run.Created.Format(dateTimeFormat),
	)
	h.sendForecast(ctx, b, chatID, history, run.Steps, caption)
}

// runHistory returns the last readings before the forecast of run.
func (h *BotHandler) runHistory(ctx context.Context, run *databaser.Run) ([]series.Point, error) {
	frame, err := h.db.GetHistoryUntil(ctx, run.HistoryEnd, contextHours)
	if err != nil {
		return nil, err
	}
	return frame.Points(h.cfg.Forecast.Target)
}

// HandleRefresh runs and stores a forecast now.
func (h *BotHandler) HandleRefresh(ctx context.Context, b BotAPI, update *models.Update) {
	chatID := update.Message.Chat.ID

	if h.forecaster == nil {
		sendErrorMessage(ctx, nil, b, chatID, "Forecasts are not available")
		return
	}

	if err := h.forecaster.Refresh(ctx); err != nil {
		sendErrorMessage(ctx, err, b, chatID, "Failed to refresh the forecast")
		return
	}

	sendMessage(ctx, b, chatID, "Forecast refreshed")
}

func (h *BotHandler) sendHistory(ctx context.Context, b BotAPI, chatID int64, hours int) {
	queryCtx, cancel := context.WithTimeout(ctx, h.cfg.Database.Timeout)
	defer cancel()

	frame, err := h.db.GetHistory(queryCtx, hours)
	if err != nil {
		sendErrorMessage(ctx, err, b, chatID, "Failed to get readings for the period")
		return
	}

	points, err := frame.Points(h.cfg.Forecast.Target)
	if err != nil || len(points) < 2 {
		sendErrorMessage(ctx, err, b, chatID, "Too few readings for the period to draw a plot")
		return
	}

	imageData, err := plotter.Graph(points, nil, series.WallClock)
	if err != nil {
		sendErrorMessage(ctx, err, b, chatID, "Failed to draw the plot")
		return
	}

	slog.DebugContext(ctx, "graph", "image", len(imageData))
	n := len(points)
	caption := fmt.Sprintf(
		"%s - %s",
		points[0].Timestamp.Format(dateTimeFormat),
		points[n-1].Timestamp.Format(dateTimeFormat),
	)

	_, err = b.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID: chatID,
		Photo: &models.InputFileUpload{
			Filename: "history.png",
			Data:     bytes.NewReader(imageData),
		},
		Caption: caption,
	})

	if err != nil {
		sendErrorMessage(ctx, err, b, chatID, "Failed to send the plot")
	}
}

func (h *BotHandler) sendForecast(ctx context.Context, b BotAPI, chatID int64, history, steps []series.Point, caption string) {
	imageData, err := plotter.Graph(history, steps, series.WallClock)
	if err != nil {
		// a plot needs two points, the CSV is still useful
		slog.WarnContext(ctx, "forecast graph", "error", err)
	} else {
		_, err = b.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID: chatID,
			Photo: &models.InputFileUpload{
				Filename: "forecast.png",
				Data:     bytes.NewReader(imageData),
			},
			Caption: caption,
		})
		if err != nil {
			sendErrorMessage(ctx, err, b, chatID, "Failed to send the plot")
			return
		}
	}

	var buf bytes.Buffer
	if err = series.WriteCSV(&buf, steps, h.cfg.Forecast.Target); err != nil {
		sendErrorMessage(ctx, err, b, chatID, "Failed to write the forecast")
		return
	}

	_, err = b.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID: chatID,
		Document: &models.InputFileUpload{
			Filename: fmt.Sprintf("forecast_%dh.csv", len(steps)),
			Data:     &buf,
		},
		Caption: caption,
	})

	if err != nil {
		sendErrorMessage(ctx, err, b, chatID, "Failed to send the forecast")
	}
}

// parseHorizon reads the optional hours argument of a command.
func parseHorizon(text string, defaultHorizon, maxHorizon int) (int, error) {
	args := strings.Fields(text)
	if len(args) < 2 {
		return defaultHorizon, nil
	}

	horizon, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("parse hours %q: %w", args[1], err)
	}

	if horizon < 1 || horizon > maxHorizon {
		return 0, fmt.Errorf("hours %d out of range [1, %d]", horizon, maxHorizon)
	}

	return horizon, nil
}

func sendMessage(ctx context.Context, b BotAPI, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})

	if err != nil {
		slog.ErrorContext(ctx, "failed to send message", "error", err)
	}
}

func sendErrorMessage(ctx context.Context, err error, b BotAPI, chatID int64, text string) {
	slog.ErrorContext(ctx, "sending error message", "error", err)
	sendMessage(ctx, b, chatID, text)
}
