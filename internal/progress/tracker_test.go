package progress

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNilTracker(t *testing.T) {
	var tr *Tracker
	tr.SetTotal(1, 10)
	tr.StartOrder("a")
	tr.Add(3)
	tr.EndOrder("a", false)
	tr.Finish()
	if tr.Current() != 0 {
		t.Error("nil tracker should count nothing")
	}
}

func TestTrackerReports(t *testing.T) {
	var buf bytes.Buffer
	tr := New(nil, NewJSONReporter(&buf, 0))
	tr.SetTotal(2, 4)
	tr.StartOrder("a.csv")
	tr.Add(2)
	tr.EndOrder("a.csv", false)
	tr.StartOrder("b.csv")
	tr.Add(2)
	tr.EndOrder("b.csv", true)
	tr.Finish()

	if tr.Current() != 4 {
		t.Errorf("Current = %d", tr.Current())
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var last ProgressUpdate
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatal(err)
	}
	if last.Phase != "complete" || last.OrdersComplete != 2 || last.ErrorCount != 1 || last.ProgressPct != 100 {
		t.Errorf("last update = %+v", last)
	}
}

func TestReporterThrottle(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporter(&buf, 1<<62)
	r.Report(ProgressUpdate{Phase: "a"})
	r.Report(ProgressUpdate{Phase: "b"})
	r.ReportImmediate(ProgressUpdate{Phase: "c"})
	r.Close()
	r.ReportImmediate(ProgressUpdate{Phase: "d"})
	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Errorf("lines = %d, want 2: %s", n, buf.String())
	}
}
