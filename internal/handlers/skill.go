package handlers

import (
	"log/slog"

	"github.com/loqalabs/convertidor/internal/eventstore"
	"github.com/loqalabs/convertidor/internal/i18n"
	"github.com/loqalabs/convertidor/internal/protocol"
	"github.com/loqalabs/convertidor/internal/skill"
)

type Options struct {
	Catalog          i18n.Catalog
	FallbackLanguage string
	SkillID          string
	UserAgent        string
	LogEnvelopes     bool
	Store            *eventstore.Store
	AuditPrivacy     string
	// Extra handlers are consulted after the built-in table and before the
	// intent reflector.
	Extra  []skill.RequestHandler
	Logger *slog.Logger
}

// New assembles the convertidor skill.
func New(opts Options) *skill.Skill {
	if opts.Catalog == nil {
		opts.Catalog = i18n.Default()
	}
	if opts.FallbackLanguage == "" {
		opts.FallbackLanguage = "en"
	}
	auditor := NewAuditor(opts.Store, opts.AuditPrivacy)

	b := skill.NewBuilder().
		WithLogger(opts.Logger).
		WithSkillID(opts.SkillID).
		WithCustomUserAgent(opts.UserAgent).
		AddRequestHandlers(
			Launch(),
			CelsiusToFahrenheit(),
			FahrenheitToCelsius(),
			HelloWorld(),
			Help(),
			CancelAndStop(),
			Fallback(),
			SessionEnded(),
		).
		AddRequestHandlers(opts.Extra...).
		AddRequestHandlers(IntentReflector()).
		AddErrorHandlers(Error(opts.Catalog, opts.FallbackLanguage, auditor)).
		AddRequestInterceptors(Localization(opts.Catalog, opts.FallbackLanguage))

	if opts.LogEnvelopes {
		b.AddRequestInterceptors(LoggingRequest())
	}
	b.AddRequestInterceptors(auditor.RequestInterceptor())
	if opts.LogEnvelopes {
		b.AddResponseInterceptors(LoggingResponse())
	}
	b.AddResponseInterceptors(auditor.ResponseInterceptor())
	return b.Create()
}

// Error catches every failure and apologises in the request language.
func Error(catalog i18n.Catalog, fallback string, auditor *Auditor) skill.ErrorHandler {
	return skill.NewErrorHandler(nil, func(in *skill.HandlerInput, err error) (*protocol.Response, error) {
		if in.Translator == nil {
			in.Translator = i18n.NewTranslator(catalog, skill.Locale(in.Envelope), fallback)
		}
		in.Logger.Error("error handled", slog.String("error", err.Error()))
		auditor.RecordError(in, err)
		speech := in.T(i18n.KeyError, nil)
		return in.ResponseBuilder.Speak(speech).Reprompt(speech).Response(), nil
	})
}
