package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/perchlabs-io/balance-bot/internal/feed"
	"github.com/perchlabs-io/balance-bot/internal/matrix"
)

// ErrSend wraps every delivery failure.
var ErrSend = errors.New("send notification")

// Notification is one rendered message about one feed.
type Notification struct {
	Feed feed.Kind
	Text string
}

// Notifier delivers notifications. Delivery is not retried.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// MatrixNotifier posts notifications to a Matrix room.
type MatrixNotifier struct {
	client *matrix.Client
	roomID string
	logger zerolog.Logger
}

// NewMatrixNotifier builds a notifier for roomID. The client logs in on the
// first notification when it has no access token yet, and again when the
// homeserver rejects its token.
func NewMatrixNotifier(client *matrix.Client, roomID string, logger zerolog.Logger) *MatrixNotifier {
	return &MatrixNotifier{
		client: client,
		roomID: roomID,
		logger: logger.With().Str("component", "alert_matrix").Logger(),
	}
}

// Notify sends the text as an m.text message.
func (n *MatrixNotifier) Notify(ctx context.Context, note Notification) error {
	eventID, err := n.client.SendText(ctx, n.roomID, note.Text)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}

	n.logger.Info().Str("feed", note.Feed.String()).Str("event_id", eventID).Msg("notification sent (matrix)")
	return nil
}

// TelegramNotifier mirrors notifications to a Telegram chat through the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
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

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    note.Text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal telegram payload: %w", ErrSend, err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create telegram request: %w", ErrSend, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: telegram request: %w", ErrSend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: telegram status %d", ErrSend, resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("%w: telegram returned ok=false", ErrSend)
	}

	n.logger.Info().Str("feed", note.Feed.String()).Msg("notification sent (telegram)")
	return nil
}

// LogNotifier writes notifications to w instead of a chat room.
type LogNotifier struct {
	w      io.Writer
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewLogNotifier builds a notifier that prints every message.
func NewLogNotifier(w io.Writer, logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{w: w, logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify prints the message.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := fmt.Fprintf(n.w, "[%s]\n%s\n\n", note.Feed, note.Text); err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	n.logger.Debug().Str("feed", note.Feed.String()).Msg("notification printed")
	return nil
}

// Fanout delivers to every channel and joins their errors.
type Fanout []Notifier

// Notify sends to each channel in order. A failing channel does not stop the others.
func (f Fanout) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (*MatrixNotifier)(nil)
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Fanout(nil)
)
