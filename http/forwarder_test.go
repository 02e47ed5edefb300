package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestForwardContent_HandlerCannotDropHeader(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("X-Payment-Response")
		w.Header().Set("X-Payment-Response", "tampered")
		w.WriteHeader(http.StatusAccepted)
	})

	req := httptest.NewRequest("POST", "/api/base/paid-content", strings.NewReader("body"))
	w := httptest.NewRecorder()
	forwardContent(w, req, next, &PaymentInfo{Payer: testPayer}, "encoded")

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d; want 202", w.Code)
	}
	if got := w.Header()["X-PAYMENT-RESPONSE"]; len(got) != 1 || got[0] != "encoded" {
		t.Errorf("X-PAYMENT-RESPONSE = %v", got)
	}
	if _, ok := w.Header()["X-Payment-Response"]; ok {
		t.Error("canonicalized duplicate should be removed")
	}
}

func TestForwardContent_SilentHandlerGets200(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	forwardContent(w, req, next, &PaymentInfo{}, "encoded")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d; want 200", w.Code)
	}
	if w.Header()["X-PAYMENT-RESPONSE"] == nil {
		t.Error("X-PAYMENT-RESPONSE missing")
	}
}

func TestForwardContent_StripsRequest(t *testing.T) {
	var forwarded *http.Request
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = r
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		if buf.Len() != 0 {
			t.Errorf("forwarded body should be empty, got %q", buf.String())
		}
	})

	req := httptest.NewRequest("PUT", "/x?keep=1", strings.NewReader(`{"amount":5}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", "session=1")
	req.Header.Set("Accept", "text/html")
	forwardContent(httptest.NewRecorder(), req, next, &PaymentInfo{}, "encoded")

	if forwarded.Method != http.MethodGet {
		t.Errorf("method = %s; want GET", forwarded.Method)
	}
	if forwarded.URL.RawQuery != "keep=1" {
		t.Errorf("query = %q", forwarded.URL.RawQuery)
	}
	for _, h := range []string{"Content-Type", "Cookie"} {
		if forwarded.Header.Get(h) != "" {
			t.Errorf("%s should not be forwarded", h)
		}
	}
	if forwarded.Header.Get("Accept") != "text/html" {
		t.Error("Accept should be forwarded")
	}
	if req.Method != "PUT" || req.Header.Get("Cookie") == "" {
		t.Error("original request must not be modified")
	}
}

func TestPaymentInfo_Refunded(t *testing.T) {
	var nilInfo *PaymentInfo
	if nilInfo.Refunded() {
		t.Error("nil info is not refunded")
	}
	if (&PaymentInfo{}).Refunded() {
		t.Error("empty refund hash is not refunded")
	}
	if !(&PaymentInfo{RefundTxHash: "0x1"}).Refunded() {
		t.Error("expected refunded")
	}
}
