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
)

// Notification captures one bill-reconciliation mismatch for delivery.
type Notification struct {
	MeterID        string
	CycleLabel     string
	CycleEnd       time.Time
	StatedDemandKW decimal.Decimal
	ComputedKW     decimal.Decimal
	DeltaDemandPct decimal.Decimal
	DeltaEnergyPct decimal.Decimal
	ThresholdPct   decimal.Decimal
	Channels       []string
	AdditionalMsg  string
}

// Notifier delivers mismatch notifications.
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

// NewTelegramNotifier constructs the Telegram channel.
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
		return fmt.Errorf("unexpected telegram status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("meter", note.MeterID).
		Str("cycle", note.CycleLabel).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("mismatch alert sent (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Bill Reconciliation Alert]\n")
	builder.WriteString(fmt.Sprintf("Meter: %s\n", note.MeterID))
	builder.WriteString(fmt.Sprintf("Cycle: %s (ends %s)\n", note.CycleLabel, note.CycleEnd.UTC().Format("2006-01-02")))
	builder.WriteString(fmt.Sprintf("Stated demand: %s kW\n", note.StatedDemandKW.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Computed demand: %s kW\n", note.ComputedKW.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Demand delta: %s%% (threshold %s%%)\n",
		note.DeltaDemandPct.Mul(decimal.NewFromInt(100)).StringFixed(1),
		note.ThresholdPct.Mul(decimal.NewFromInt(100)).StringFixed(1)))
	if !note.DeltaEnergyPct.IsZero() {
		builder.WriteString(fmt.Sprintf("Energy delta: %s%%\n",
			note.DeltaEnergyPct.Mul(decimal.NewFromInt(100)).StringFixed(1)))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
