package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tabulify/tabulify-sub009/internal/config"
)

func TestDisabledNotifierSendsNothing(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()

	n := New(&config.SlackConfig{WebhookURL: srv.URL, Enabled: false})
	if n.IsEnabled() {
		t.Fatal("notifier should be disabled")
	}
	if err := n.RunStarted("r", "x@memory", 1); err != nil {
		t.Fatal(err)
	}
	if New(nil).IsEnabled() {
		t.Error("a nil config should disable the notifier")
	}
	if calls != 0 {
		t.Errorf("webhook called %d times", calls)
	}
}

func TestRunCompletedWithErrors(t *testing.T) {
	var got SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
	}))
	defer srv.Close()

	n := New(&config.SlackConfig{WebhookURL: srv.URL, Channel: "#data", Enabled: true})
	failures := []string{"a.csv@cd", "b.csv@cd", "c.csv@cd", "d.csv@cd", "e.csv@cd", "f.csv@cd"}
	err := n.RunCompletedWithErrors("run-1", time.Now(), 75*time.Second, 4, 6, 1234567, failures)
	if err != nil {
		t.Fatalf("RunCompletedWithErrors error: %v", err)
	}
	if got.Channel != "#data" || got.Username != "tabul" {
		t.Errorf("message header = %+v", got)
	}
	if !strings.Contains(got.Text, "1,234,567") {
		t.Errorf("text = %q", got.Text)
	}
	fields := make(map[string]string)
	for _, f := range got.Attachments[0].Fields {
		fields[f.Title] = f.Value
	}
	if fields["Duration"] != "1m 15s" {
		t.Errorf("duration = %q", fields["Duration"])
	}
	if fields["Failed Transfers"] != "a.csv@cd, b.csv@cd, c.csv@cd... and 3 more" {
		t.Errorf("failures = %q", fields["Failed Transfers"])
	}
}

func TestSendReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := New(&config.SlackConfig{WebhookURL: srv.URL, Enabled: true})
	err := n.RunCompleted("run-1", time.Now(), time.Second, 1, 10)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("err = %v, want a 403 status error", err)
	}
}

func TestFormatting(t *testing.T) {
	if got := formatNumberWithCommas(999); got != "999" {
		t.Errorf("formatNumberWithCommas(999) = %s", got)
	}
	if got := formatNumberWithCommas(1000000); got != "1,000,000" {
		t.Errorf("formatNumberWithCommas(1000000) = %s", got)
	}
	if got := formatDuration(2*time.Hour + 3*time.Minute + 4*time.Second); got != "2h 3m 4s" {
		t.Errorf("formatDuration = %s", got)
	}
	if got := throughput(100, 2*time.Second); got != 50 {
		t.Errorf("throughput = %d, want 50", got)
	}
	if got := summarize([]string{"a", "b"}); got != "a, b" {
		t.Errorf("summarize = %q", got)
	}
}
