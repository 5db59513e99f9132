package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/room4-2/OrderDesk/llm"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordPartial("ok")
	m.RecordTurn("voice", "ok", 2, llm.Usage{PromptTokens: 1}, time.Second)
	m.RecordError("SESSION_NOT_FOUND")
	m.SetActive(1, 2, 3, 4)
}

func TestHandlerExposesRecordedMetrics(t *testing.T) {
	m := New("test")
	m.RecordPartial("ok")
	m.RecordTurn("chat", "ok", 3, llm.Usage{PromptTokens: 10, CompletionTokens: 4}, 2*time.Second)
	m.RecordError("BUFFER_LIMIT_EXCEEDED")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`test_partial_passes_total{outcome="ok"} 1`,
		`test_tokens_total{direction="input"} 10`,
		`test_errors_total{code="BUFFER_LIMIT_EXCEEDED"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}
