package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type stubSender struct {
	name string
	sent []string
	fail error
}

func (s *stubSender) Send(ctx context.Context, title, message string) error {
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, title)
	return nil
}

func (s *stubSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersByEvent(t *testing.T) {
	sender := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{sender}, []string{"position_closed"}, discardLogger())

	if err := n.Notify(context.Background(), "order_executed", "filtered", "x"); err != nil {
		t.Fatalf("filtered notify errored: %v", err)
	}
	if err := n.Notify(context.Background(), "position_closed", "allowed", "x"); err != nil {
		t.Fatalf("allowed notify errored: %v", err)
	}

	if len(sender.sent) != 1 || sender.sent[0] != "allowed" {
		t.Errorf("sent = %v, want only the allowed event", sender.sent)
	}
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	sender := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{sender}, []string{"position_closed"}, discardLogger())

	if err := n.NotifyAll(context.Background(), "urgent", "x"); err != nil {
		t.Fatalf("NotifyAll errored: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent = %v, want 1 delivery", sender.sent)
	}
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	bad := &stubSender{name: "bad", fail: errors.New("webhook down")}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), "anything", "title", "x")
	if err == nil {
		t.Fatal("expected combined error from failing sender")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error %q does not name the failing sender", err)
	}
	if len(good.sent) != 1 {
		t.Error("healthy sender skipped after failure")
	}
}
