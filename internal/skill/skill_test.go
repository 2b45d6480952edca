package skill

import (
	"context"
	"errors"
	"testing"

	"github.com/loqalabs/convertidor/internal/protocol"
)

func intentEnvelope(name, locale string) protocol.RequestEnvelope {
	return protocol.RequestEnvelope{
		Version: "1.0",
		Session: &protocol.Session{SessionID: "session-1", Attributes: map[string]any{"visits": 2.0}},
		Request: protocol.Request{
			Type:      protocol.RequestTypeIntent,
			RequestID: "req-1",
			Locale:    locale,
			Intent:    &protocol.Intent{Name: name},
		},
	}
}

func speak(text string) HandleFunc {
	return func(in *HandlerInput) (*protocol.Response, error) {
		return in.ResponseBuilder.Speak(text).Response(), nil
	}
}

func TestFirstMatchingHandlerWins(t *testing.T) {
	s := NewBuilder().
		AddRequestHandlers(
			NewHandler(IsIntent("Other"), speak("other")),
			NewHandler(IsIntent("Target"), speak("first")),
			NewHandler(IsIntent("Target"), speak("second")),
		).
		Create()

	out, err := s.Invoke(context.Background(), intentEnvelope("Target", "en-US"))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got := SpeechText(out.Response.OutputSpeech); got != "first" {
		t.Fatalf("expected first registered handler, got %q", got)
	}
	if out.Version != protocol.EnvelopeVersion {
		t.Fatalf("unexpected version %q", out.Version)
	}
}

func TestInterceptorOrder(t *testing.T) {
	var trail []string
	record := func(name string) RequestInterceptorFunc {
		return func(*HandlerInput) error {
			trail = append(trail, name)
			return nil
		}
	}
	s := NewBuilder().
		AddRequestInterceptors(record("req-1"), record("req-2")).
		AddRequestHandlers(NewHandler(IsIntent("Target"), func(in *HandlerInput) (*protocol.Response, error) {
			trail = append(trail, "handler")
			return in.ResponseBuilder.Speak("ok").Response(), nil
		})).
		AddResponseInterceptors(ResponseInterceptorFunc(func(_ *HandlerInput, resp *protocol.Response) error {
			if resp.OutputSpeech == nil {
				t.Errorf("response interceptor saw empty response")
			}
			trail = append(trail, "resp")
			return nil
		})).
		Create()

	if _, err := s.Invoke(context.Background(), intentEnvelope("Target", "en-US")); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	want := []string{"req-1", "req-2", "handler", "resp"}
	if len(trail) != len(want) {
		t.Fatalf("trail = %v, want %v", trail, want)
	}
	for i := range want {
		if trail[i] != want[i] {
			t.Fatalf("trail = %v, want %v", trail, want)
		}
	}
}

func TestHandlerErrorRoutesToErrorHandler(t *testing.T) {
	boom := errors.New("boom")
	respInterceptorRan := false
	s := NewBuilder().
		AddRequestHandlers(NewHandler(IsIntent("Target"), func(in *HandlerInput) (*protocol.Response, error) {
			in.ResponseBuilder.Speak("partial")
			return nil, boom
		})).
		AddResponseInterceptors(ResponseInterceptorFunc(func(*HandlerInput, *protocol.Response) error {
			respInterceptorRan = true
			return nil
		})).
		AddErrorHandlers(
			NewErrorHandler(func(_ *HandlerInput, err error) bool { return errors.Is(err, ErrNoHandler) }, func(in *HandlerInput, _ error) (*protocol.Response, error) {
				return in.ResponseBuilder.Speak("wrong handler").Response(), nil
			}),
			NewErrorHandler(nil, func(in *HandlerInput, err error) (*protocol.Response, error) {
				if !errors.Is(err, boom) {
					t.Errorf("unexpected error %v", err)
				}
				return in.ResponseBuilder.Reprompt("sorry").Response(), nil
			}),
		).
		Create()

	out, err := s.Invoke(context.Background(), intentEnvelope("Target", "en-US"))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Response.OutputSpeech != nil {
		t.Fatalf("partial speech from the failed handler leaked: %+v", out.Response.OutputSpeech)
	}
	if got := SpeechText(out.Response.Reprompt.OutputSpeech); got != "sorry" {
		t.Fatalf("unexpected reprompt %q", got)
	}
	if respInterceptorRan {
		t.Fatal("response interceptors must not run for error responses")
	}
}

func TestNoHandlerWithoutErrorHandler(t *testing.T) {
	s := NewBuilder().AddRequestHandlers(NewHandler(IsIntent("Target"), speak("ok"))).Create()
	_, err := s.Invoke(context.Background(), intentEnvelope("Unknown", "en-US"))
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestRequestInterceptorFailureIsHandled(t *testing.T) {
	s := NewBuilder().
		AddRequestInterceptors(RequestInterceptorFunc(func(*HandlerInput) error { return errors.New("locale lookup failed") })).
		AddRequestHandlers(NewHandler(IsIntent("Target"), func(*HandlerInput) (*protocol.Response, error) {
			t.Fatal("handler must not run after interceptor failure")
			return nil, nil
		})).
		AddErrorHandlers(NewErrorHandler(nil, func(in *HandlerInput, _ error) (*protocol.Response, error) {
			return in.ResponseBuilder.Speak("error").Response(), nil
		})).
		Create()

	out, err := s.Invoke(context.Background(), intentEnvelope("Target", "en-US"))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got := SpeechText(out.Response.OutputSpeech); got != "error" {
		t.Fatalf("unexpected speech %q", got)
	}
}

func TestResponseInterceptorFailureIsHandled(t *testing.T) {
	persistErr := errors.New("persist session failed")
	calls := 0
	s := NewBuilder().
		AddRequestHandlers(NewHandler(IsIntent("Target"), speak("converted"))).
		AddResponseInterceptors(ResponseInterceptorFunc(func(*HandlerInput, *protocol.Response) error {
			calls++
			return persistErr
		})).
		AddErrorHandlers(NewErrorHandler(nil, func(in *HandlerInput, err error) (*protocol.Response, error) {
			if !errors.Is(err, persistErr) {
				t.Errorf("unexpected error %v", err)
			}
			return in.ResponseBuilder.Speak("error").Response(), nil
		})).
		Create()

	out, err := s.Invoke(context.Background(), intentEnvelope("Target", "en-US"))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got := SpeechText(out.Response.OutputSpeech); got != "error" {
		t.Fatalf("unexpected speech %q", got)
	}
	if calls != 1 {
		t.Fatalf("response interceptor ran %d times, want 1", calls)
	}
}

func TestSkillIDVerification(t *testing.T) {
	s := NewBuilder().
		WithSkillID("amzn1.ask.skill.good").
		AddRequestHandlers(NewHandler(IsRequestType(protocol.RequestTypeLaunch), speak("hi"))).
		AddErrorHandlers(NewErrorHandler(nil, func(in *HandlerInput, _ error) (*protocol.Response, error) {
			t.Fatal("skill id failures must bypass error handlers")
			return nil, nil
		})).
		Create()

	env := protocol.RequestEnvelope{
		Context: &protocol.Context{System: &protocol.System{Application: &protocol.Application{ApplicationID: "amzn1.ask.skill.bad"}}},
		Request: protocol.Request{Type: protocol.RequestTypeLaunch},
	}
	if _, err := s.Invoke(context.Background(), env); !errors.Is(err, ErrSkillIDMismatch) {
		t.Fatalf("expected ErrSkillIDMismatch, got %v", err)
	}

	env.Context.System.Application.ApplicationID = "amzn1.ask.skill.good"
	if _, err := s.Invoke(context.Background(), env); err != nil {
		t.Fatalf("expected matching id to pass, got %v", err)
	}
}

func TestSessionAttributesAndUserAgent(t *testing.T) {
	s := NewBuilder().
		WithCustomUserAgent("sample/convertidor-angy/v1.2").
		AddRequestHandlers(NewHandler(IsIntent("Target"), func(in *HandlerInput) (*protocol.Response, error) {
			in.SessionAttributes["last"] = "Target"
			return in.ResponseBuilder.Response(), nil
		})).
		Create()

	env := intentEnvelope("Target", "en-US")
	out, err := s.Invoke(context.Background(), env)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.SessionAttributes["visits"] != 2.0 || out.SessionAttributes["last"] != "Target" {
		t.Fatalf("unexpected session attributes %v", out.SessionAttributes)
	}
	if _, leaked := env.Session.Attributes["last"]; leaked {
		t.Fatal("handler mutated the request envelope's attributes")
	}
	if out.UserAgent != "convertidor/"+Version+" sample/convertidor-angy/v1.2" {
		t.Fatalf("unexpected user agent %q", out.UserAgent)
	}

	env.Session = nil
	out, err = s.Invoke(context.Background(), env)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.SessionAttributes != nil {
		t.Fatalf("sessionless requests must not carry session attributes: %v", out.SessionAttributes)
	}
}

func TestPredicates(t *testing.T) {
	in := &HandlerInput{Envelope: intentEnvelope("ConvertirCelsiusAFahrenheitIntent", "es-MX")}
	if !All(IsIntent("ConvertirCelsiusAFahrenheitIntent"), LocaleHasPrefix("es"))(in) {
		t.Fatal("expected es intent to match")
	}
	if LocaleHasPrefix("en")(in) {
		t.Fatal("es locale must not match en prefix")
	}
	in.Envelope.Request.Locale = ""
	if LocaleHasPrefix("es")(in) {
		t.Fatal("missing locale must not match")
	}
	in.Envelope.Request.Type = protocol.RequestTypeLaunch
	if IsIntent("ConvertirCelsiusAFahrenheitIntent")(in) {
		t.Fatal("launch request must not match an intent predicate")
	}
}

func TestResponseBuilder(t *testing.T) {
	resp := NewResponseBuilder().Speak("<speak>hola</speak>").Reprompt("otra vez").Response()
	if resp.OutputSpeech.SSML != "<speak>hola</speak>" {
		t.Fatalf("speech double wrapped: %q", resp.OutputSpeech.SSML)
	}
	if resp.ShouldEndSession == nil || *resp.ShouldEndSession {
		t.Fatal("reprompt must keep the session open")
	}
	resp = NewResponseBuilder().Speak("bye").Response()
	if resp.ShouldEndSession != nil {
		t.Fatal("speak alone must leave shouldEndSession unset")
	}
	if SpeechText(resp.OutputSpeech) != "bye" {
		t.Fatalf("unexpected speech text %q", SpeechText(resp.OutputSpeech))
	}
}

func TestSlotValue(t *testing.T) {
	env := intentEnvelope("X", "en-US")
	env.Request.Intent.Slots = map[string]protocol.Slot{
		"filled": {Name: "filled", Value: "12"},
		"empty":  {Name: "empty"},
	}
	if v, ok := SlotValue(env, "filled"); !ok || v != "12" {
		t.Fatalf("unexpected slot value %q %v", v, ok)
	}
	if _, ok := SlotValue(env, "empty"); ok {
		t.Fatal("empty slot must report unfilled")
	}
	if _, ok := SlotValue(env, "absent"); ok {
		t.Fatal("absent slot must report unfilled")
	}
}
