package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestMetrics_Cycles(t *testing.T) {
	metrics := NewMetrics(zap.NewNop())

	metrics.RecordCycle(100*time.Millisecond, nil)
	metrics.RecordCycle(300*time.Millisecond, errors.New("timeout"))
	metrics.RecordSkippedCycle()
	metrics.RecordNewAssignments(3)
	metrics.RecordNewAssignments(0)
	metrics.SetAssignments(7)

	if got := testutil.ToFloat64(metrics.cycles.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 successful cycle, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.cycles.WithLabelValues("error")); got != 1 {
		t.Errorf("Expected 1 failed cycle, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.newAssignments); got != 3 {
		t.Errorf("Expected 3 new assignments, got %v", got)
	}

	stats := metrics.GetStats()
	checker := stats["checker"].(map[string]interface{})
	if checker["total_cycles"] != int64(2) {
		t.Errorf("Expected 2 cycles, got %v", checker["total_cycles"])
	}
	if checker["skipped_cycles"] != int64(1) {
		t.Errorf("Expected 1 skipped cycle, got %v", checker["skipped_cycles"])
	}
	if checker["last_check"] == notSet {
		t.Error("Expected last check to be set")
	}

	assignments := stats["assignments"].(map[string]interface{})
	if assignments["tracked"] != 7 {
		t.Errorf("Expected 7 tracked assignments, got %v", assignments["tracked"])
	}
}

func TestMetrics_State(t *testing.T) {
	metrics := NewMetrics(zap.NewNop())

	if got := testutil.ToFloat64(metrics.stateGauge.WithLabelValues("uninitialized")); got != 1 {
		t.Errorf("Expected initial state gauge 1, got %v", got)
	}

	metrics.SetState("polling")

	if got := testutil.ToFloat64(metrics.stateGauge.WithLabelValues("polling")); got != 1 {
		t.Errorf("Expected polling gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.stateGauge.WithLabelValues("uninitialized")); got != 0 {
		t.Errorf("Expected uninitialized gauge 0, got %v", got)
	}

	checker := metrics.GetStats()["checker"].(map[string]interface{})
	if checker["state"] != "polling" {
		t.Errorf("Expected state polling, got %v", checker["state"])
	}
}

func TestMetrics_NextCheck(t *testing.T) {
	metrics := NewMetrics(zap.NewNop())

	checker := metrics.GetStats()["checker"].(map[string]interface{})
	if checker["next_check"] != notSet {
		t.Errorf("Expected %q, got %v", notSet, checker["next_check"])
	}

	next := time.Date(2025, 12, 25, 15, 30, 0, 0, time.UTC)
	metrics.SetNextCheck(next)

	checker = metrics.GetStats()["checker"].(map[string]interface{})
	if checker["next_check"] != "2025-12-25T15:30:00Z" {
		t.Errorf("Expected RFC3339 time, got %v", checker["next_check"])
	}
}

func TestMetrics_SubmissionsAndNotifications(t *testing.T) {
	metrics := NewMetrics(zap.NewNop())

	metrics.RecordSubmission("canvas", nil)
	metrics.RecordSubmission("moodle", errors.New("upload failed"))
	metrics.RecordNotification("log", nil)
	metrics.RecordNotification("telegram", errors.New("chat not found"))

	if got := testutil.ToFloat64(metrics.submissions.WithLabelValues("moodle", "error")); got != 1 {
		t.Errorf("Expected 1 failed moodle submission, got %v", got)
	}

	stats := metrics.GetStats()
	submissions := stats["submissions"].(map[string]interface{})
	if submissions["succeeded"] != int64(1) || submissions["failed"] != int64(1) {
		t.Errorf("Unexpected submission stats: %v", submissions)
	}
	notifications := stats["notifications"].(map[string]interface{})
	if notifications["delivered"] != int64(1) || notifications["failed"] != int64(1) {
		t.Errorf("Unexpected notification stats: %v", notifications)
	}
}

func TestMetrics_Handler(t *testing.T) {
	metrics := NewMetrics(zap.NewNop())
	metrics.RecordCycle(time.Second, nil)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "lmscenter_check_cycles_total") {
		t.Error("Expected cycle counter in exposition output")
	}
}

func TestMetrics_FormatDuration(t *testing.T) {
	metrics := NewMetrics(zap.NewNop())

	duration := 115556550 * time.Nanosecond
	if result := metrics.formatDuration(duration); result != "0.12s" {
		t.Errorf("Expected 0.12s, got %s", result)
	}
}
