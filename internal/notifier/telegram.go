package notifier

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
)

// Ensure TelegramNotifier implements model.Notifier.
var _ model.Notifier = (*TelegramNotifier)(nil)

// TelegramNotifier sends HTML-formatted alerts to one chat through the Bot API.
type TelegramNotifier struct {
	bot    *tele.Bot
	chat   *tele.Chat
	logger *slog.Logger
}

// NewTelegramNotifier builds an offline bot; no request is made until the
// first alert is sent.
func NewTelegramNotifier(cfg config.TelegramConfig, client *http.Client, logger *slog.Logger) (*TelegramNotifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	settings := tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
	}
	if client != nil {
		settings.Client = client
	}
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, logger: logger}, nil
}

// NotifyJob sends the job as one HTML message.
func (n *TelegramNotifier) NotifyJob(ctx context.Context, j model.Job) error {
	if err := n.send(ctx, formatJob(j)); err != nil {
		return err
	}
	n.logger.Info("telegram message sent", "company", j.Company, "title", j.Title)
	return nil
}

// NotifySignal sends the signal as one HTML message.
func (n *TelegramNotifier) NotifySignal(ctx context.Context, s model.Signal) error {
	if err := n.send(ctx, formatSignal(s)); err != nil {
		return err
	}
	n.logger.Info("telegram message sent", "signal", s.Type, "value", s.DimensionValue)
	return nil
}

func (n *TelegramNotifier) send(ctx context.Context, text string) error {
	// telebot has no per-call context; bail out early if already cancelled.
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := n.bot.Send(n.chat, text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func formatJob(j model.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(j.Title))
	fmt.Fprintf(&b, "🏢 %s\n", html.EscapeString(j.Company))
	if j.Location != "" {
		fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(j.Location))
	}
	fmt.Fprintf(&b, "⭐ Score: %d/100\n", j.Score)
	if len(j.Stack) > 0 {
		fmt.Fprintf(&b, "🛠 %s\n", html.EscapeString(strings.Join(j.Stack, ", ")))
	}
	if j.URL != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">Apply</a>", html.EscapeString(j.URL))
	}
	return b.String()
}

func formatSignal(s model.Signal) string {
	return fmt.Sprintf("<b>%s</b> in %s <b>%s</b>\nWindow: %s\nStrength: %d/100\nCount %d vs mean %.1f (stddev %.1f)",
		strings.ToUpper(string(s.Type)), s.Dimension, html.EscapeString(s.DimensionValue),
		html.EscapeString(s.Window), s.Score, s.Count, s.Mean, s.Stddev)
}
