package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMiddleware(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/queue", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	// Touch a few recorders so their series exist.
	RecordItemEnqueued("order_filled")
	RecordItemProcessed("completed")
	RecordItemDeferred()
	RecordDeliveryCreated("email")
	RecordQuotaSkip("sms")
	RecordHandOff("email", "sent")
	RecordDispatchLatency(250 * time.Millisecond)
	RecordItemsReclaimed(2)
	RecordRateLimitRejection("producer:alerts")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	for _, series := range []string{
		"herald_queue_items_enqueued_total",
		"herald_queue_items_processed_total",
		"herald_queue_items_deferred_total",
		"herald_deliveries_created_total",
		"herald_quota_skips_total",
		"herald_transport_handoffs_total",
		"herald_dispatch_latency_seconds",
		"herald_queue_items_reclaimed_total",
		"herald_rate_limit_rejections_total",
	} {
		if !strings.Contains(body, series) {
			t.Errorf("metrics output missing %s", series)
		}
	}
}
