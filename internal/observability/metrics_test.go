package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordChat(t *testing.T) {
	m := NewMetricsOn(prometheus.NewRegistry())

	m.RecordChat("cli", "success", 0.2)
	m.RecordChat("cli", "success", 1.1)
	m.RecordChat("api", "error", 0.1)

	expected := `
		# HELP steward_chats_total Total chat turns by platform and status
		# TYPE steward_chats_total counter
		steward_chats_total{platform="api",status="error"} 1
		steward_chats_total{platform="cli",status="success"} 2
	`
	if err := testutil.CollectAndCompare(m.ChatCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected chat counter state: %v", err)
	}
}

func TestRecordModelCall_TokenAccounting(t *testing.T) {
	m := NewMetricsOn(prometheus.NewRegistry())

	m.RecordModelCall("ollama", "llama3.2", "success", 0.8, 120, 40)
	m.RecordModelCall("ollama", "llama3.2", "success", 0.5, 80, 0)

	expected := `
		# HELP steward_model_tokens_total Total tokens used by provider, model, and type
		# TYPE steward_model_tokens_total counter
		steward_model_tokens_total{model="llama3.2",provider="ollama",type="completion"} 40
		steward_model_tokens_total{model="llama3.2",provider="ollama",type="prompt"} 200
	`
	if err := testutil.CollectAndCompare(m.ModelTokens, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected token totals: %v", err)
	}

	if count := testutil.CollectAndCount(m.ModelRequestCounter); count != 1 {
		t.Errorf("expected 1 request label combination, got %d", count)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := NewMetricsOn(prometheus.NewRegistry())

	m.RecordToolExecution("web_search", "success", 0.3)
	m.RecordToolExecution("web_search", "error", 0.1)
	m.RecordToolExecution("remember", "success", 0.01)

	if count := testutil.CollectAndCount(m.ToolExecutionCounter); count != 3 {
		t.Errorf("expected 3 label combinations, got %d", count)
	}
	got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("web_search", "error"))
	if got != 1 {
		t.Errorf("expected 1 failed web_search execution, got %v", got)
	}
}

func TestRecordApprovalAndNotification(t *testing.T) {
	m := NewMetricsOn(prometheus.NewRegistry())

	m.RecordApproval("approved")
	m.RecordApproval("denied")
	m.RecordApproval("denied")
	m.RecordNotification("cli", "queued")

	if got := testutil.ToFloat64(m.ApprovalCounter.WithLabelValues("denied")); got != 2 {
		t.Errorf("expected 2 denied approvals, got %v", got)
	}
	if got := testutil.ToFloat64(m.NotificationCounter.WithLabelValues("cli", "queued")); got != 1 {
		t.Errorf("expected 1 queued notification, got %v", got)
	}
}
