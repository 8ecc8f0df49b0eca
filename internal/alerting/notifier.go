package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mandiwatch/internal/model"
)

// Notification carries everything the delivery channel needs to tell the
// owner their alert changed state.
type Notification struct {
	OwnerID     string
	Commodity   string
	Market      string
	Direction   model.Direction
	Target      decimal.Decimal
	Price       decimal.Decimal
	Unit        string
	State       model.AlertState
	TriggeredAt time.Time
}

// FromTransition builds the outbound notification for a transition event.
func FromTransition(tr model.Transition) Notification {
	return Notification{
		OwnerID:     tr.OwnerID,
		Commodity:   tr.Commodity,
		Market:      tr.Market,
		Direction:   tr.Direction,
		Target:      tr.Target,
		Price:       tr.Price,
		State:       tr.To,
		TriggeredAt: tr.ObservedAt,
	}
}

// Notifier delivers one notification. Implementations may fail transiently;
// the dispatcher owns retries.
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

// NewTelegramNotifier constructs a Telegram delivery channel.
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

// Notify sends the rendered message via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
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

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("owner", note.OwnerID).
		Str("commodity", note.Commodity).
		Str("market", note.Market).
		Msg("alert delivered (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Mandi Price Alert]\n")
	builder.WriteString(fmt.Sprintf("Commodity: %s\n", note.Commodity))
	if note.Market != "" {
		builder.WriteString(fmt.Sprintf("Market: %s\n", note.Market))
	}
	builder.WriteString(fmt.Sprintf("Watch: %s %s\n", note.Direction, note.Target.StringFixed(2)))
	price := note.Price.StringFixed(2)
	if note.Unit != "" {
		price += " per " + note.Unit
	}
	builder.WriteString(fmt.Sprintf("Price: %s\n", price))
	builder.WriteString(fmt.Sprintf("State: %s\n", note.State))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.TriggeredAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
