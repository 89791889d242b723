package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTransport_CountsByStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("PUT", "202"))

	c := &http.Client{Transport: NewTransport(nil)}
	req, _ := http.NewRequest("PUT", ts.URL, nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("PUT", "202"))
	if after-before != 1 {
		t.Errorf("expected counter to grow by 1, got %v", after-before)
	}
}

func TestRecordUpload(t *testing.T) {
	okBefore := testutil.ToFloat64(uploadItemsTotal.WithLabelValues("success"))
	bytesBefore := testutil.ToFloat64(uploadBytesTotal)
	errBefore := testutil.ToFloat64(uploadItemsTotal.WithLabelValues("error"))

	RecordUpload(100, true)
	RecordUpload(50, false)

	if got := testutil.ToFloat64(uploadItemsTotal.WithLabelValues("success")) - okBefore; got != 1 {
		t.Errorf("success delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(uploadItemsTotal.WithLabelValues("error")) - errBefore; got != 1 {
		t.Errorf("error delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(uploadBytesTotal) - bytesBefore; got != 100 {
		t.Errorf("bytes delta = %v, want 100 (failed uploads not counted)", got)
	}
}
