package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rangewatch/internal/monitor"
	"rangewatch/internal/pricing"
)

// Notification 封装告警上下文。
type Notification struct {
	Kind         monitor.EventKind
	PoolID       string
	PoolName     string
	Price        decimal.Decimal
	Min          decimal.Decimal
	Max          decimal.Decimal
	HoursOutside int
	At           time.Time
}

// FromEvent converts an engine event into a notification.
func FromEvent(ev monitor.Event) Notification {
	return Notification{
		Kind:         ev.Kind,
		PoolID:       ev.Pool.ID,
		PoolName:     ev.Pool.Name,
		Price:        ev.Price,
		Min:          ev.Pool.Min,
		Max:          ev.Pool.Max,
		HoursOutside: ev.HoursOutside,
		At:           ev.At,
	}
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with a Markdown rendering of the notification.
// When Telegram rejects the markup the same alert is resent as plain text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	err := n.send(ctx, RenderMarkdown(note), "Markdown")
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
		n.logger.Warn().Err(err).Str("pool", note.PoolID).Msg("Markdown 被拒绝，改用纯文本重发")
		err = n.send(ctx, RenderText(note), "")
	}
	if err != nil {
		return err
	}

	n.logger.Info().Str("pool", note.PoolID).
		Str("kind", string(note.Kind)).
		Msg("alert sent (telegram)")
	return nil
}

// APIError 描述 Telegram 返回的失败响应。
type APIError struct {
	Status      int
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram 响应码异常: %d", e.Status)
	}
	return fmt.Sprintf("telegram 响应码异常: %d: %s", e.Status, e.Description)
}

func (n *TelegramNotifier) send(ctx context.Context, text, parseMode string) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    text,
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Description: result.Description}
	}
	if decodeErr == nil && !result.OK {
		return &APIError{Status: resp.StatusCode, Description: result.Description}
	}
	return nil
}

// ConsoleNotifier writes alerts to the log, standing in for a desktop pop-up.
type ConsoleNotifier struct {
	logger zerolog.Logger
}

// NewConsoleNotifier constructs a console notifier.
func NewConsoleNotifier(logger zerolog.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{logger: logger.With().Str("component", "alert_console").Logger()}
}

// Notify logs the title and body of the notification.
func (c *ConsoleNotifier) Notify(_ context.Context, note Notification) error {
	event := c.logger.Info()
	if note.Kind != monitor.EventRecovery {
		event = c.logger.Warn()
	}
	event.Str("pool", note.PoolID).
		Str("kind", string(note.Kind)).
		Str("price", pricing.FormatPrice(note.Price)).
		Str("title", Title(note)).
		Msg(RenderPlain(note))
	return nil
}

// Multi fans a notification out to several notifiers. Every notifier is
// attempted; failures are joined.
type Multi []Notifier

// Notify delivers to all notifiers.
func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*ConsoleNotifier)(nil)
	_ Notifier = Multi(nil)
)
