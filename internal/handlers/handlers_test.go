package handlers

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/loqalabs/convertidor/internal/config"
	"github.com/loqalabs/convertidor/internal/eventstore"
	"github.com/loqalabs/convertidor/internal/protocol"
	"github.com/loqalabs/convertidor/internal/skill"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func envelope(requestType, locale, intent string, slots map[string]string) protocol.RequestEnvelope {
	env := protocol.RequestEnvelope{
		Version: "1.0",
		Session: &protocol.Session{SessionID: "session-1", User: &protocol.User{UserID: "user-1"}},
		Request: protocol.Request{Type: requestType, RequestID: "req-1", Locale: locale},
	}
	if intent != "" {
		env.Request.Intent = &protocol.Intent{Name: intent, Slots: map[string]protocol.Slot{}}
		for name, value := range slots {
			env.Request.Intent.Slots[name] = protocol.Slot{Name: name, Value: value}
		}
	}
	return env
}

func TestDispatchTable(t *testing.T) {
	s := New(Options{Logger: discardLogger(), LogEnvelopes: true})

	cases := []struct {
		name     string
		env      protocol.RequestEnvelope
		speech   string
		reprompt bool
	}{
		{
			name:     "launch en",
			env:      envelope(protocol.RequestTypeLaunch, "en-US", "", nil),
			speech:   "Welcome Vite! You can ask me to convert temperatures.",
			reprompt: true,
		},
		{
			name:     "launch es",
			env:      envelope(protocol.RequestTypeLaunch, "es-ES", "", nil),
			speech:   "¡Bienvenida Vite! Puedes pedirme que convierta temperaturas.",
			reprompt: true,
		},
		{
			name:   "celsius to fahrenheit",
			env:    envelope(protocol.RequestTypeIntent, "es-MX", IntentCelsiusToFahrenheit, map[string]string{SlotCelsius: "100"}),
			speech: "Vite, 100 grados Celsius equivalen a 212.00 grados Fahrenheit.",
		},
		{
			name:   "celsius to fahrenheit half cent rounds up",
			env:    envelope(protocol.RequestTypeIntent, "es-ES", IntentCelsiusToFahrenheit, map[string]string{SlotCelsius: "0,625"}),
			speech: "Vite, 0,625 grados Celsius equivalen a 33.13 grados Fahrenheit.",
		},
		{
			name:   "fahrenheit to celsius",
			env:    envelope(protocol.RequestTypeIntent, "en-US", IntentFahrenheitToCelsius, map[string]string{SlotFahrenheit: "100"}),
			speech: "Vite, 100 degrees Fahrenheit are 37.78 degrees Celsius.",
		},
		{
			name:   "spanish intent in english locale is reflected",
			env:    envelope(protocol.RequestTypeIntent, "en-US", IntentCelsiusToFahrenheit, map[string]string{SlotCelsius: "100"}),
			speech: "You just triggered ConvertirCelsiusAFahrenheitIntent",
		},
		{
			name:   "english intent in spanish locale is reflected",
			env:    envelope(protocol.RequestTypeIntent, "es-ES", IntentFahrenheitToCelsius, map[string]string{SlotFahrenheit: "100"}),
			speech: "You just triggered ConvertFahrenheitToCelsiusIntent",
		},
		{
			name:   "hello world is not localized",
			env:    envelope(protocol.RequestTypeIntent, "es-ES", IntentHelloWorld, nil),
			speech: "Hello World!",
		},
		{
			name:     "help",
			env:      envelope(protocol.RequestTypeIntent, "en-GB", IntentHelp, nil),
			speech:   "You can ask me to convert temperatures between Fahrenheit and Celsius Vite.",
			reprompt: true,
		},
		{
			name:   "cancel",
			env:    envelope(protocol.RequestTypeIntent, "es-ES", IntentCancel, nil),
			speech: "¡Adiós Vite!",
		},
		{
			name:   "stop",
			env:    envelope(protocol.RequestTypeIntent, "en-US", IntentStop, nil),
			speech: "Goodbye Vite!",
		},
		{
			name:     "fallback",
			env:      envelope(protocol.RequestTypeIntent, "es-US", IntentFallback, nil),
			speech:   "Lo siento Vite, no sé sobre eso. Por favor intenta de nuevo.",
			reprompt: true,
		},
		{
			name:   "unknown intent is reflected",
			env:    envelope(protocol.RequestTypeIntent, "en-US", "WeatherIntent", nil),
			speech: "You just triggered WeatherIntent",
		},
		{
			name:     "unparseable slot speaks error",
			env:      envelope(protocol.RequestTypeIntent, "es-ES", IntentCelsiusToFahrenheit, map[string]string{SlotCelsius: "?"}),
			speech:   "Lo siento Vite, ha ocurrido un error. Por favor intenta de nuevo.",
			reprompt: true,
		},
		{
			name:     "missing slot speaks error",
			env:      envelope(protocol.RequestTypeIntent, "en-US", IntentFahrenheitToCelsius, nil),
			speech:   "Sorry Vite, there was an error. Please try again.",
			reprompt: true,
		},
		{
			name:     "unknown request type speaks error",
			env:      envelope("CanFulfillIntentRequest", "en-US", "", nil),
			speech:   "Sorry Vite, there was an error. Please try again.",
			reprompt: true,
		},
		{
			name:   "unknown locale falls back to english",
			env:    envelope(protocol.RequestTypeIntent, "fr-FR", IntentStop, nil),
			speech: "Goodbye Vite!",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := s.Invoke(context.Background(), tc.env)
			if err != nil {
				t.Fatalf("invoke: %v", err)
			}
			if got := skill.SpeechText(out.Response.OutputSpeech); got != tc.speech {
				t.Fatalf("speech = %q, want %q", got, tc.speech)
			}
			if tc.reprompt {
				if out.Response.Reprompt == nil || skill.SpeechText(out.Response.Reprompt.OutputSpeech) != tc.speech {
					t.Fatalf("expected reprompt %q, got %+v", tc.speech, out.Response.Reprompt)
				}
			} else if out.Response.Reprompt != nil {
				t.Fatalf("unexpected reprompt %+v", out.Response.Reprompt)
			}
		})
	}
}

func TestSessionEndedIsSilent(t *testing.T) {
	s := New(Options{Logger: discardLogger()})
	env := envelope(protocol.RequestTypeSessionEnded, "en-US", "", nil)
	env.Request.Reason = "ERROR"
	env.Request.Error = &protocol.RequestError{Type: "INVALID_RESPONSE", Message: "bad ssml"}

	out, err := s.Invoke(context.Background(), env)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Response.OutputSpeech != nil || out.Response.Reprompt != nil {
		t.Fatalf("session ended must not speak: %+v", out.Response)
	}
}

type speakingHandler struct{}

func (speakingHandler) CanHandle(in *skill.HandlerInput) bool {
	return skill.IntentName(in.Envelope) == "PluginIntent"
}

func (speakingHandler) Handle(in *skill.HandlerInput) (*protocol.Response, error) {
	return in.ResponseBuilder.Speak("from plugin").Response(), nil
}

func TestExtraHandlersPrecedeReflector(t *testing.T) {
	s := New(Options{Logger: discardLogger(), Extra: []skill.RequestHandler{speakingHandler{}}})
	out, err := s.Invoke(context.Background(), envelope(protocol.RequestTypeIntent, "en-US", "PluginIntent", nil))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got := skill.SpeechText(out.Response.OutputSpeech); got != "from plugin" {
		t.Fatalf("unexpected speech %q", got)
	}
}

func TestAuditTrail(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"}
	store, err := eventstore.Open(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	s := New(Options{Logger: discardLogger(), Store: store, AuditPrivacy: "internal"})

	ok := envelope(protocol.RequestTypeIntent, "en-US", IntentFahrenheitToCelsius, map[string]string{SlotFahrenheit: "32"})
	if _, err := s.Invoke(context.Background(), ok); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	bad := envelope(protocol.RequestTypeIntent, "en-US", IntentFahrenheitToCelsius, map[string]string{SlotFahrenheit: "warm"})
	bad.Request.RequestID = "req-2"
	if _, err := s.Invoke(context.Background(), bad); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	events, err := store.ListSessionEvents(context.Background(), "session-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	want := []string{eventstore.TypeSkillRequest, eventstore.TypeSkillResponse, eventstore.TypeSkillRequest, eventstore.TypeSkillError}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, evt := range events {
		if evt.Type != want[i] {
			t.Fatalf("event %d type = %s, want %s", i, evt.Type, want[i])
		}
		if evt.ActorID != "user-1" || evt.Privacy != "internal" {
			t.Fatalf("event %d missing actor/privacy: %+v", i, evt)
		}
	}
	if events[3].RequestID != "req-2" {
		t.Fatalf("error event request id = %q", events[3].RequestID)
	}
}

func TestSessionlessAuditUsesRequestID(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"}
	store, err := eventstore.Open(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	s := New(Options{Logger: discardLogger(), Store: store, AuditPrivacy: "internal"})
	env := envelope(protocol.RequestTypeLaunch, "en-US", "", nil)
	env.Session = nil
	env.Request.RequestID = "req-solo"
	if _, err := s.Invoke(context.Background(), env); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	events, err := store.ListSessionEvents(context.Background(), "request:req-solo", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected request and response events, got %d", len(events))
	}
}
