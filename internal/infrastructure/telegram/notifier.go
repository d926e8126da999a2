package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/ports"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	// Telegram rejects messages longer than 4096 characters.
	maxMessageRunes = 4096
)

// Notifier sends cycle outcomes to a Telegram chat via bot API.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
	logger   *slog.Logger
}

var _ ports.CycleObserver = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger.With("component", "telegram"),
	}
}

// CycleCompleted announces a successful analysis.
func (n *Notifier) CycleCompleted(ctx context.Context, outcome domain.CycleOutcome) {
	if outcome.Analysis == nil {
		return
	}
	if err := n.Publish(ctx, completedMessage(outcome)); err != nil {
		n.logger.Warn("completion notification failed", "error", err)
	}
}

// CycleFailed announces a failed cycle.
func (n *Notifier) CycleFailed(ctx context.Context, outcome domain.CycleOutcome) {
	if err := n.Publish(ctx, failedMessage(outcome)); err != nil {
		n.logger.Warn("failure notification failed", "error", err)
	}
}

// Publish posts an HTML-formatted message to Telegram.
func (n *Notifier) Publish(ctx context.Context, text string) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(n.apiBase, "/"), n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", truncate(text, maxMessageRunes))
	form.Set("parse_mode", "HTML")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

func completedMessage(outcome domain.CycleOutcome) string {
	a := outcome.Analysis
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Black Swan score: %d/100</b> (certainty %d%%)\n", a.Score, a.Certainty)
	if level, ok := a.ExtraValue("risk_level"); ok {
		fmt.Fprintf(&b, "Risk level: %s\n", html.EscapeString(fmt.Sprint(level)))
	}
	if outcome.DataQuality != nil {
		fmt.Fprintf(&b, "Sources: %d/%d\n", outcome.DataQuality.Successful, outcome.DataQuality.Total)
	}
	b.WriteString("\n")
	b.WriteString(html.EscapeString(PlainText(a.Narrative)))
	if len(a.RiskFactors) > 0 {
		b.WriteString("\n\n<b>Risk factors</b>\n")
		for _, f := range a.RiskFactors {
			fmt.Fprintf(&b, "- %s\n", html.EscapeString(PlainText(f)))
		}
	}
	if outcome.Storage != nil && !outcome.Storage.Stored {
		b.WriteString("\n<i>Result was not stored.</i>")
	}
	return strings.TrimRight(b.String(), "\n")
}

func failedMessage(outcome domain.CycleOutcome) string {
	kind := outcome.ErrorKind
	if kind == "" {
		kind = "Error"
	}
	return fmt.Sprintf("<b>Analysis cycle failed</b> (%s)\n%s", html.EscapeString(kind), html.EscapeString(outcome.Error))
}

// PlainText reduces model output that may contain HTML to its text content.
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
