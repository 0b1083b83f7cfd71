package main

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/RGBKey/yolodice-api/internal/identity"
	"github.com/RGBKey/yolodice-api/internal/platform/privacylog"
	"github.com/RGBKey/yolodice-api/internal/session"
)

func TestFollowLogsEarlierEvents(t *testing.T) {
	cred, err := identity.ParseWIF("KwDiBf89QgGbjEhKnhXJuH7LrciVrZi3qYjgd9M7rFU73sVHnoWn")
	if err != nil {
		t.Fatalf("parse wif: %v", err)
	}
	signer, err := identity.NewMessageSigner(cred)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	sess, err := session.New(signer, session.Options{ManualAuth: true})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer func() { _ = sess.Close() }()

	client, server := net.Pipe()
	defer func() { _ = server.Close() }()
	if err := sess.Attach(client); err != nil {
		t.Fatalf("attach: %v", err)
	}

	var buf bytes.Buffer
	logger := privacylog.NewJSONLogger(&buf, slog.LevelInfo)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := follow(ctx, sess, logger); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if !strings.Contains(buf.String(), `"kind":"connected"`) {
		t.Fatalf("connected event missing from log: %s", buf.String())
	}
}
