package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/convertidor/internal/config"
	"github.com/loqalabs/convertidor/internal/protocol"
	"github.com/loqalabs/convertidor/internal/skill"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "events.db")
	cfg.Skill.LogEnvelopes = false
	return cfg
}

func waitReady(t *testing.T, r *Runtime, errs <-chan error) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !r.Ready() {
		select {
		case err := <-errs:
			t.Fatalf("runtime exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("runtime never became ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRuntimeServesSkillOverHTTPAndBus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = ""

	r := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- r.Start(ctx) }()
	waitReady(t, r, errs)

	env := protocol.RequestEnvelope{
		Version: "1.0",
		Request: protocol.Request{Type: protocol.RequestTypeLaunch, RequestID: "req-1", Locale: "en-US"},
	}
	body, _ := json.Marshal(env)
	res, err := http.Post("http://"+r.Addr()+"/v1/skill", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var out protocol.ResponseEnvelope
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	res.Body.Close()
	if got := skill.SpeechText(out.Response.OutputSpeech); got != "Welcome Vite! You can ask me to convert temperatures." {
		t.Fatalf("unexpected speech %q", got)
	}

	msg, err := r.bus.Conn().Request(protocol.SubjectSkillRequest, body, 2*time.Second)
	if err != nil {
		t.Fatalf("bus request: %v", err)
	}
	var busOut protocol.ResponseEnvelope
	if err := json.Unmarshal(msg.Data, &busOut); err != nil {
		t.Fatalf("decode bus reply: %v", err)
	}
	if skill.SpeechText(busOut.Response.OutputSpeech) != skill.SpeechText(out.Response.OutputSpeech) {
		t.Fatalf("bus and http replies differ")
	}

	ready, err := http.Get("http://" + r.Addr() + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	ready.Body.Close()
	if ready.StatusCode != http.StatusOK {
		t.Fatalf("readyz = %d", ready.StatusCode)
	}

	cancel()
	select {
	case err := <-errs:
		if err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("runtime did not stop")
	}
}

func TestBuildSkillRejectsBadCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Skill.CatalogPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := BuildSkill(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected catalog error")
	}
}
