package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/loqalabs/convertidor/internal/handlers"
	"github.com/loqalabs/convertidor/internal/protocol"
	"github.com/loqalabs/convertidor/internal/skill"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func postEnvelope(t *testing.T, url string, env protocol.RequestEnvelope) *http.Response {
	t.Helper()
	body, _ := json.Marshal(env)
	res, err := http.Post(url+"/v1/skill", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestSkillEndpoint(t *testing.T) {
	s := handlers.New(handlers.Options{Logger: discardLogger(), UserAgent: "test/1"})
	ts := httptest.NewServer(New(s, nil, nil, discardLogger()).Router())
	defer ts.Close()

	res := postEnvelope(t, ts.URL, protocol.RequestEnvelope{
		Version: "1.0",
		Session: &protocol.Session{SessionID: "s-1", Attributes: map[string]any{"count": 1.0}},
		Request: protocol.Request{
			Type:   protocol.RequestTypeIntent,
			Locale: "es-ES",
			Intent: &protocol.Intent{
				Name:  handlers.IntentCelsiusToFahrenheit,
				Slots: map[string]protocol.Slot{handlers.SlotCelsius: {Name: handlers.SlotCelsius, Value: "37"}},
			},
		},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	var out protocol.ResponseEnvelope
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := skill.SpeechText(out.Response.OutputSpeech); got != "Vite, 37 grados Celsius equivalen a 98.60 grados Fahrenheit." {
		t.Fatalf("unexpected speech %q", got)
	}
	if out.Version != protocol.EnvelopeVersion || !strings.Contains(out.UserAgent, "test/1") {
		t.Fatalf("unexpected envelope %+v", out)
	}
	if out.SessionAttributes["count"] != 1.0 {
		t.Fatalf("session attributes not echoed: %+v", out.SessionAttributes)
	}
}

func TestSkillEndpointRejectsBadBody(t *testing.T) {
	s := handlers.New(handlers.Options{Logger: discardLogger()})
	ts := httptest.NewServer(New(s, nil, nil, discardLogger()).Router())
	defer ts.Close()

	for _, body := range []string{"", "{broken"} {
		res, err := http.Post(ts.URL+"/v1/skill", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		var reply protocol.ErrorReply
		_ = json.NewDecoder(res.Body).Decode(&reply)
		res.Body.Close()
		if res.StatusCode != http.StatusBadRequest || reply.Error != "invalid_request" {
			t.Fatalf("body %q: status = %d reply = %+v", body, res.StatusCode, reply)
		}
	}
}

func TestSkillEndpointReportsTruncatedBody(t *testing.T) {
	s := handlers.New(handlers.Options{Logger: discardLogger()})
	ts := httptest.NewServer(New(s, nil, nil, discardLogger()).Router())
	defer ts.Close()

	cases := map[string]string{
		"":                 "empty body",
		`{"version":"1.0"`: "unexpected EOF",
	}
	for body, want := range cases {
		res, err := http.Post(ts.URL+"/v1/skill", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		var reply protocol.ErrorReply
		_ = json.NewDecoder(res.Body).Decode(&reply)
		res.Body.Close()
		if res.StatusCode != http.StatusBadRequest || !strings.Contains(reply.Message, want) {
			t.Fatalf("body %q: status = %d reply = %+v, want message containing %q", body, res.StatusCode, reply, want)
		}
	}
}

func TestSkillEndpointForbidsForeignSkillID(t *testing.T) {
	s := handlers.New(handlers.Options{Logger: discardLogger(), SkillID: "amzn1.ask.skill.mine"})
	ts := httptest.NewServer(New(s, nil, nil, discardLogger()).Router())
	defer ts.Close()

	res := postEnvelope(t, ts.URL, protocol.RequestEnvelope{
		Version: "1.0",
		Session: &protocol.Session{SessionID: "s-1", Application: &protocol.Application{ApplicationID: "amzn1.ask.skill.theirs"}},
		Request: protocol.Request{Type: protocol.RequestTypeLaunch, Locale: "en-US"},
	})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", res.StatusCode)
	}
}

type failingInvoker struct{}

func (failingInvoker) Invoke(context.Context, protocol.RequestEnvelope) (protocol.ResponseEnvelope, error) {
	return protocol.ResponseEnvelope{}, errors.New("boom")
}

func TestSkillEndpointInternalError(t *testing.T) {
	ts := httptest.NewServer(New(failingInvoker{}, nil, nil, discardLogger()).Router())
	defer ts.Close()

	res := postEnvelope(t, ts.URL, protocol.RequestEnvelope{Request: protocol.Request{Type: protocol.RequestTypeLaunch}})
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", res.StatusCode)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	var ready atomic.Bool
	checks := map[string]Check{
		"skill": func() bool { return true },
		"bus":   ready.Load,
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	ts := httptest.NewServer(New(failingInvoker{}, metrics, checks, discardLogger()).Router())
	defer ts.Close()

	get := func(path string) int {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		res.Body.Close()
		return res.StatusCode
	}

	if code := get("/healthz"); code != http.StatusOK {
		t.Fatalf("healthz = %d", code)
	}
	if code := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before bus = %d", code)
	}
	ready.Store(true)
	if code := get("/readyz"); code != http.StatusOK {
		t.Fatalf("readyz after bus = %d", code)
	}
	if code := get("/metrics"); code != http.StatusOK {
		t.Fatalf("metrics = %d", code)
	}
}
