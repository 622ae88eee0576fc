package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"artvista/pkg/events"
	"artvista/pkg/store"
	"artvista/services/artvista/internal/config"
)

func TestLocalBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.FileConfig{
		Port:            "8080",
		StoreBackend:    "memory",
		ObjectBackend:   "file",
		SessionBackend:  "jwt",
		EventsBackend:   "none",
		FileStorePath:   filepath.Join(dir, "objects"),
		PublicFilesPath: "/files/",
		JWTSecret:       "0123456789abcdef0123456789abcdef",
	}

	docs, err := NewDocumentStore(ctx, cfg)
	if err != nil {
		t.Fatalf("document store: %v", err)
	}
	if _, ok := docs.(*store.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", docs)
	}

	objects, root, err := NewObjectStore(ctx, cfg)
	if err != nil {
		t.Fatalf("object store: %v", err)
	}
	if root != filepath.Join(dir, "objects") {
		t.Fatalf("unexpected files root %q", root)
	}
	u, err := objects.URL(ctx, "images/a")
	if err != nil || u != "http://localhost:8080/files/images/a" {
		t.Fatalf("unexpected url %q err=%v", u, err)
	}

	sessions, err := NewSessionStore(cfg, nil)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	token, err := sessions.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if uid, ok, err := sessions.GetUserIDByToken(token); err != nil || !ok || uid != "user-1" {
		t.Fatalf("token round trip: uid=%q ok=%v err=%v", uid, ok, err)
	}

	pub, sub, err := NewEvents(cfg, nil)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if _, ok := pub.(events.Nop); !ok || sub != nil {
		t.Fatalf("expected nop publisher without subscriber, got %T %v", pub, sub)
	}
}

func TestRedisBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.FileConfig{
		RedisAddr:      mr.Addr(),
		SessionBackend: "redis",
		EventsBackend:  "redis",
	}
	client := NewRedisClient(cfg)
	if client == nil {
		t.Fatal("expected redis client")
	}
	defer client.Close()

	sessions, err := NewSessionStore(cfg, client)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	if _, ok := sessions.(*store.RedisSessionStore); !ok {
		t.Fatalf("expected redis session store, got %T", sessions)
	}
	pub, sub, err := NewEvents(cfg, client)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if _, ok := pub.(*events.RedisBus); !ok || sub == nil {
		t.Fatalf("expected redis bus, got %T %v", pub, sub)
	}

	if NewRedisClient(config.FileConfig{}) != nil {
		t.Fatal("expected nil client without an address")
	}
}
