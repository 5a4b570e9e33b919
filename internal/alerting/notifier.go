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

// Notification carries the summary of one analysis run.
type Notification struct {
	RunID            int64
	FinishedAt       time.Time
	CollateralType   string
	WindowBlocks     uint64
	Pairs            int
	ValidPoints      int
	LiquidatedPairs  int
	MeanDeviationPct decimal.Decimal
	ThresholdPct     decimal.Decimal
	Channels         []string
	AdditionalMsg    string
}

// Exceeds reports whether the mean deviation is above the threshold.
func (n Notification) Exceeds() bool {
	return n.MeanDeviationPct.GreaterThan(n.ThresholdPct)
}

// Notifier delivers alerts.
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

// Notify posts the rendered text to sendMessage.
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

	n.logger.Info().Int64("run_id", note.RunID).
		Str("collateral_type", note.CollateralType).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Vault Risk Backtest]\n")
	if note.RunID > 0 {
		builder.WriteString(fmt.Sprintf("Run: #%d\n", note.RunID))
	}
	if !note.FinishedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Finished: %s UTC\n", note.FinishedAt.UTC().Format(time.RFC3339)))
	}
	builder.WriteString(fmt.Sprintf("Collateral: %s, window %d blocks\n", note.CollateralType, note.WindowBlocks))
	builder.WriteString(fmt.Sprintf("Pairs: %d (scored %d, with liquidations %d)\n", note.Pairs, note.ValidPoints, note.LiquidatedPairs))
	builder.WriteString(fmt.Sprintf("Mean deviation: %s%% (threshold %s%%)\n", note.MeanDeviationPct.StringFixed(3), note.ThresholdPct.StringFixed(3)))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
