package skill

import (
	"context"
	"log/slog"
	"strings"

	"github.com/loqalabs/convertidor/internal/i18n"
	"github.com/loqalabs/convertidor/internal/protocol"
)

// HandlerInput is the per-request state shared by interceptors and handlers.
type HandlerInput struct {
	Context  context.Context
	Envelope protocol.RequestEnvelope
	// Attributes live for a single request only.
	Attributes map[string]any
	// SessionAttributes start as a copy of the request session's attributes
	// and are echoed back in the response envelope.
	SessionAttributes map[string]any
	ResponseBuilder   *ResponseBuilder
	Logger            *slog.Logger
	// Translator is bound by the localization interceptor.
	Translator *i18n.Translator
}

// T translates key for the request locale. Without a bound translator the
// key is returned unchanged.
func (in *HandlerInput) T(key string, args map[string]string) string {
	return in.Translator.T(key, args)
}

type RequestHandler interface {
	CanHandle(in *HandlerInput) bool
	Handle(in *HandlerInput) (*protocol.Response, error)
}

type ErrorHandler interface {
	CanHandle(in *HandlerInput, err error) bool
	Handle(in *HandlerInput, err error) (*protocol.Response, error)
}

type RequestInterceptor interface {
	Process(in *HandlerInput) error
}

type ResponseInterceptor interface {
	Process(in *HandlerInput, resp *protocol.Response) error
}

type RequestInterceptorFunc func(in *HandlerInput) error

func (f RequestInterceptorFunc) Process(in *HandlerInput) error { return f(in) }

type ResponseInterceptorFunc func(in *HandlerInput, resp *protocol.Response) error

func (f ResponseInterceptorFunc) Process(in *HandlerInput, resp *protocol.Response) error {
	return f(in, resp)
}

// Predicate decides whether a handler applies to a request.
type Predicate func(in *HandlerInput) bool

type HandleFunc func(in *HandlerInput) (*protocol.Response, error)

type handler struct {
	can    Predicate
	handle HandleFunc
}

// NewHandler pairs a predicate with a handle function.
func NewHandler(can Predicate, handle HandleFunc) RequestHandler {
	return handler{can: can, handle: handle}
}

func (h handler) CanHandle(in *HandlerInput) bool { return h.can(in) }

func (h handler) Handle(in *HandlerInput) (*protocol.Response, error) { return h.handle(in) }

type errorHandler struct {
	can    func(in *HandlerInput, err error) bool
	handle func(in *HandlerInput, err error) (*protocol.Response, error)
}

// NewErrorHandler pairs an error predicate with a handle function. A nil
// predicate matches every error.
func NewErrorHandler(can func(in *HandlerInput, err error) bool, handle func(in *HandlerInput, err error) (*protocol.Response, error)) ErrorHandler {
	if can == nil {
		can = func(*HandlerInput, error) bool { return true }
	}
	return errorHandler{can: can, handle: handle}
}

func (h errorHandler) CanHandle(in *HandlerInput, err error) bool { return h.can(in, err) }

func (h errorHandler) Handle(in *HandlerInput, err error) (*protocol.Response, error) {
	return h.handle(in, err)
}

func IsRequestType(requestType string) Predicate {
	return func(in *HandlerInput) bool {
		return RequestType(in.Envelope) == requestType
	}
}

// IsIntent matches an IntentRequest carrying any of the given intent names.
func IsIntent(names ...string) Predicate {
	return func(in *HandlerInput) bool {
		if RequestType(in.Envelope) != protocol.RequestTypeIntent {
			return false
		}
		name := IntentName(in.Envelope)
		for _, n := range names {
			if n == name {
				return true
			}
		}
		return false
	}
}

// LocaleHasPrefix matches requests whose locale starts with prefix. A
// request without a locale never matches.
func LocaleHasPrefix(prefix string) Predicate {
	return func(in *HandlerInput) bool {
		locale := Locale(in.Envelope)
		return locale != "" && strings.HasPrefix(locale, prefix)
	}
}

func All(preds ...Predicate) Predicate {
	return func(in *HandlerInput) bool {
		for _, p := range preds {
			if !p(in) {
				return false
			}
		}
		return true
	}
}

func RequestType(env protocol.RequestEnvelope) string {
	return env.Request.Type
}

// IntentName returns the intent name of an IntentRequest, or "".
func IntentName(env protocol.RequestEnvelope) string {
	if env.Request.Type != protocol.RequestTypeIntent || env.Request.Intent == nil {
		return ""
	}
	return env.Request.Intent.Name
}

func Locale(env protocol.RequestEnvelope) string {
	return env.Request.Locale
}

// SlotValue returns the value of a filled slot.
func SlotValue(env protocol.RequestEnvelope, name string) (string, bool) {
	if env.Request.Intent == nil {
		return "", false
	}
	slot, ok := env.Request.Intent.Slots[name]
	if !ok || slot.Value == "" {
		return "", false
	}
	return slot.Value, true
}
