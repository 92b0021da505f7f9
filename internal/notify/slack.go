package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tabulify/tabulify-sub009/internal/config"
)

const footer = "tabul"

// Notifier sends notifications to Slack
type Notifier struct {
	config     *config.SlackConfig
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a new Slack notifier
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil {
		cfg = &config.SlackConfig{Enabled: false}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// RunStarted sends notification when a transfer run starts
func (n *Notifier) RunStarted(runID, target string, transferCount int) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":rocket:",
		Attachments: []SlackAttachment{
			{
				Color: "#36a64f", // green
				Title: "Transfer Started",
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Transfers", Value: fmt.Sprintf("%d", transferCount), Short: true},
					{Title: "Target", Value: target, Short: false},
				},
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// RunCompleted sends notification when every transfer of a run succeeded
func (n *Notifier) RunCompleted(runID string, startTime time.Time, duration time.Duration, transferCount int, rowCount int64) error {
	if !n.IsEnabled() {
		return nil
	}

	headerText := fmt.Sprintf("Transfer run completed successfully. %d transfers wrote %s records. Throughput: %s records/sec.",
		transferCount, formatNumberWithCommas(rowCount), formatNumberWithCommas(throughput(rowCount, duration)))

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":white_check_mark:",
		Text:      headerText,
		Attachments: []SlackAttachment{
			{
				Color: "#36a64f", // green
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Started", Value: startTime.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
					{Title: "Duration", Value: formatDuration(duration), Short: true},
					{Title: "Transfers", Value: fmt.Sprintf("%d", transferCount), Short: true},
					{Title: "Total Records", Value: formatNumberWithCommas(rowCount), Short: true},
				},
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// RunCompletedWithErrors sends notification when some transfers of a run failed
func (n *Notifier) RunCompletedWithErrors(runID string, startTime time.Time, duration time.Duration,
	succeeded, failed int, rowCount int64, failures []string) error {
	if !n.IsEnabled() {
		return nil
	}

	headerText := fmt.Sprintf("Transfer run completed with errors. %d transfers succeeded, %d failed. Wrote %s records.",
		succeeded, failed, formatNumberWithCommas(rowCount))

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":warning:",
		Text:      headerText,
		Attachments: []SlackAttachment{
			{
				Color: "#ffc107", // yellow/orange
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Started", Value: startTime.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
					{Title: "Duration", Value: formatDuration(duration), Short: true},
					{Title: "Succeeded", Value: fmt.Sprintf("%d", succeeded), Short: true},
					{Title: "Failed", Value: fmt.Sprintf("%d", failed), Short: true},
					{Title: "Total Records", Value: formatNumberWithCommas(rowCount), Short: true},
					{Title: "Failed Transfers", Value: summarize(failures), Short: false},
				},
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return "tabul"
}

// summarize lists up to five failures, then the first three and a count.
func summarize(failures []string) string {
	switch {
	case len(failures) == 0:
		return ""
	case len(failures) <= 5:
		return strings.Join(failures, ", ")
	default:
		return fmt.Sprintf("%s... and %d more", strings.Join(failures[:3], ", "), len(failures)-3)
	}
}

func throughput(rows int64, d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(float64(rows) / d.Seconds())
}

func formatNumberWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result []byte
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
