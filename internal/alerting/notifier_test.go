package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func sampleNotification() Notification {
	return Notification{
		MeterID:        "m1",
		CycleLabel:     "2024-02",
		CycleEnd:       time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		StatedDemandKW: decimal.NewFromInt(100),
		ComputedKW:     decimal.NewFromInt(200),
		DeltaDemandPct: decimal.NewFromFloat(1.0),
		ThresholdPct:   decimal.NewFromFloat(0.12),
		Channels:       []string{"telegram"},
	}
}

func TestTelegramNotifySuccess(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n := NewTelegramNotifier("test-token", "chat-1", server.URL, 5*time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("path = %s", gotPath)
	}
	if gotPayload["chat_id"] != "chat-1" {
		t.Errorf("chat_id = %s", gotPayload["chat_id"])
	}
	text := gotPayload["text"]
	for _, want := range []string{"[Bill Reconciliation Alert]", "m1", "2024-02", "200.00 kW", "100.0% (threshold 12.0%)"} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
}

func TestTelegramNotifyHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewTelegramNotifier("t", "c", server.URL, 5*time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestTelegramNotifyAPIRefusal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false}`))
	}))
	defer server.Close()

	n := NewTelegramNotifier("t", "c", server.URL, 5*time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("expected error on ok=false")
	}
}

func TestRenderMessageOmitsZeroEnergyDelta(t *testing.T) {
	note := sampleNotification()
	msg := renderMessage(note)
	if strings.Contains(msg, "Energy delta") {
		t.Error("zero energy delta should be omitted")
	}

	note.DeltaEnergyPct = decimal.NewFromFloat(0.25)
	msg = renderMessage(note)
	if !strings.Contains(msg, "Energy delta: 25.0%") {
		t.Errorf("energy delta missing:\n%s", msg)
	}
}
