package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/floodyc/AfterLiving/internal/logging"
)

type capturingLogger struct {
	logging.Logger
	msgs []string
	args [][]any
}

func (l *capturingLogger) Info(ctx context.Context, msg string, args ...any) {
	l.msgs = append(l.msgs, msg)
	l.args = append(l.args, args)
}

func TestLogSink_Enqueue(t *testing.T) {
	log := &capturingLogger{}
	sink := NewLogSink(log)

	err := sink.Enqueue(context.Background(), "ann@example.com", KindVerifierInvited,
		map[string]string{"plan_id": "p1"})
	if err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}

	if len(log.msgs) != 1 || log.msgs[0] != "notification" {
		t.Fatalf("unexpected log messages: %v", log.msgs)
	}

	got := map[any]any{}
	args := log.args[0]
	for i := 0; i+1 < len(args); i += 2 {
		got[args[i]] = args[i+1]
	}
	if got["address"] != "ann@example.com" {
		t.Errorf("address not logged: %v", got)
	}
	if got["kind"] != string(KindVerifierInvited) {
		t.Errorf("kind not logged: %v", got)
	}
	if got["plan_id"] != "p1" {
		t.Errorf("data not logged: %v", got)
	}
}

func TestLogSink_RedactsTokens(t *testing.T) {
	log := &capturingLogger{}
	sink := NewLogSink(log)

	grant := "eyJhbGciOiJIUzI1NiJ9.payload.signature"
	err := sink.Enqueue(context.Background(), "kid@example.com", KindRecipientAccess,
		map[string]string{
			"view_url": "https://view.example.com/m?token=" + grant,
			"token":    grant,
		})
	if err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}

	got := map[any]any{}
	for i, args := 0, log.args[0]; i+1 < len(args); i += 2 {
		got[args[i]] = args[i+1]
	}

	url, _ := got["view_url"].(string)
	if strings.Contains(url, grant) {
		t.Errorf("full grant token logged in view_url: %q", url)
	}
	if !strings.HasPrefix(url, "https://view.example.com/m?token="+grant[:8]) || !strings.HasSuffix(url, "...") {
		t.Errorf("view_url not truncated as expected: %q", url)
	}
	if tok, _ := got["token"].(string); tok == grant || !strings.HasSuffix(tok, "...") {
		t.Errorf("token value not truncated: %q", tok)
	}
}

func TestRedactToken_ShortValuesUntouched(t *testing.T) {
	if got := redactToken("plan_id", "p1"); got != "p1" {
		t.Errorf("non-token value changed: %q", got)
	}
	if got := redactToken("token", "abcd"); got != "abcd" {
		t.Errorf("short token must pass through: %q", got)
	}
}
