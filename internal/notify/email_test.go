package notify

import (
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketchat/marketchat-server/internal/config"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  []byte
}

func newTestEmail(cfg config.SMTPConfig, resolve AddressResolver) (*Email, chan sentMail) {
	logger := zerolog.Nop()
	n := NewEmail(cfg, resolve, &logger)

	sent := make(chan sentMail, 1)
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sent <- sentMail{addr: addr, from: from, to: to, msg: msg}
		return nil
	}
	return n, sent
}

func waitMail(t *testing.T, sent chan sentMail) sentMail {
	t.Helper()
	select {
	case m := <-sent:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no mail sent")
		return sentMail{}
	}
}

func assertNoMail(t *testing.T, sent chan sentMail) {
	t.Helper()
	select {
	case m := <-sent:
		t.Fatalf("unexpected mail to %v", m.to)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMessageReceivedSendsToResolvedAddress(t *testing.T) {
	cfg := config.SMTPConfig{
		Host: "smtp.example.com",
		Port: "587",
		From: "noreply@example.com",
	}
	n, sent := newTestEmail(cfg, StaticResolver(map[string]string{
		"vendor-1": "vendor@example.com",
	}))

	n.MessageReceived("vendor-1", "conv-1")

	m := waitMail(t, sent)
	if m.addr != "smtp.example.com:587" {
		t.Errorf("addr = %s", m.addr)
	}
	if m.from != "noreply@example.com" {
		t.Errorf("from = %s", m.from)
	}
	if len(m.to) != 1 || m.to[0] != "vendor@example.com" {
		t.Errorf("to = %v", m.to)
	}
	body := string(m.msg)
	if !strings.Contains(body, "To: vendor@example.com") {
		t.Errorf("missing To header: %q", body)
	}
	if !strings.Contains(body, "Subject: ") {
		t.Errorf("missing Subject header: %q", body)
	}
}

func TestMessageReceivedSkipsUnknownUser(t *testing.T) {
	cfg := config.SMTPConfig{Host: "smtp.example.com", Port: "587"}
	n, sent := newTestEmail(cfg, StaticResolver(map[string]string{
		"vendor-1": "vendor@example.com",
	}))

	n.MessageReceived("somebody-else", "conv-1")
	assertNoMail(t, sent)
}

func TestMessageReceivedDisabled(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.SMTPConfig
		resolve AddressResolver
	}{
		{"no host", config.SMTPConfig{}, StaticResolver(map[string]string{"u": "u@example.com"})},
		{"no resolver", config.SMTPConfig{Host: "smtp.example.com", Port: "587"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, sent := newTestEmail(tt.cfg, tt.resolve)
			n.MessageReceived("u", "conv-1")
			assertNoMail(t, sent)
		})
	}
}

func TestStaticResolver(t *testing.T) {
	if StaticResolver(nil) != nil {
		t.Error("empty mapping should disable the resolver")
	}
	if StaticResolver(map[string]string{}) != nil {
		t.Error("empty mapping should disable the resolver")
	}

	resolve := StaticResolver(map[string]string{"u1": "u1@example.com"})
	if addr, ok := resolve("u1"); !ok || addr != "u1@example.com" {
		t.Errorf("resolve(u1) = (%s, %v)", addr, ok)
	}
	if _, ok := resolve("u2"); ok {
		t.Error("unknown user resolved")
	}
}
