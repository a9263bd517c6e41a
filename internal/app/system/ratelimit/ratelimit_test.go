package ratelimit_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dalemusser/cohortsync/internal/app/system/ratelimit"
)

func TestLimiter_Allow(t *testing.T) {
	l := ratelimit.New(2, time.Minute)
	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if l.Allow("a") {
		t.Error("third request should be limited")
	}
	if !l.Allow("b") {
		t.Error("keys are independent")
	}
	if got := l.Remaining("a"); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
	l.Reset("a")
	if !l.Allow("a") {
		t.Error("Reset should clear the window")
	}
}

func TestLimiter_TakeReportsWait(t *testing.T) {
	l := ratelimit.New(1, time.Minute)
	if ok, wait := l.Take("a"); !ok || wait != 0 {
		t.Fatalf("first Take = %v, %v", ok, wait)
	}
	ok, wait := l.Take("a")
	if ok {
		t.Fatal("second Take should be limited")
	}
	if wait <= 0 || wait > time.Minute {
		t.Errorf("wait = %v, want within the window", wait)
	}
}

func TestLimiter_WindowExpires(t *testing.T) {
	l := ratelimit.New(1, 20*time.Millisecond)
	l.Allow("a")
	if l.Allow("a") {
		t.Fatal("second request inside the window should be limited")
	}
	time.Sleep(30 * time.Millisecond)
	if !l.Allow("a") {
		t.Error("request after the window should pass")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "10.0.0.1:5000", "10.0.0.1"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "10.0.0.1:5000", "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": " 5.6.7.8 "}, "10.0.0.1:5000", "5.6.7.8"},
		{"no port", nil, "10.0.0.9", "10.0.0.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ratelimit.ClientIP(r); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	h := ratelimit.Middleware(ratelimit.New(1, time.Minute), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hooks/orders", nil))
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "60" {
			t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
		}
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}
