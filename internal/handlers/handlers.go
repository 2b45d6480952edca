// Package handlers is the convertidor dispatch table: which request shapes
// the skill answers and what it says.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loqalabs/convertidor/internal/convert"
	"github.com/loqalabs/convertidor/internal/i18n"
	"github.com/loqalabs/convertidor/internal/protocol"
	"github.com/loqalabs/convertidor/internal/skill"
)

const (
	IntentCelsiusToFahrenheit = "ConvertirCelsiusAFahrenheitIntent"
	IntentFahrenheitToCelsius = "ConvertFahrenheitToCelsiusIntent"
	IntentHelloWorld          = "HelloWorldIntent"
	IntentHelp                = "AMAZON.HelpIntent"
	IntentCancel              = "AMAZON.CancelIntent"
	IntentStop                = "AMAZON.StopIntent"
	IntentFallback            = "AMAZON.FallbackIntent"

	SlotCelsius    = "gradosCelsius"
	SlotFahrenheit = "gradosFahrenheit"
)

// Intents lists every intent the built-in table answers explicitly.
var Intents = []string{
	IntentCelsiusToFahrenheit,
	IntentFahrenheitToCelsius,
	IntentHelloWorld,
	IntentHelp,
	IntentCancel,
	IntentStop,
	IntentFallback,
}

func Launch() skill.RequestHandler {
	return skill.NewHandler(skill.IsRequestType(protocol.RequestTypeLaunch), func(in *skill.HandlerInput) (*protocol.Response, error) {
		speech := in.T(i18n.KeyWelcome, nil)
		return in.ResponseBuilder.Speak(speech).Reprompt(speech).Response(), nil
	})
}

// CelsiusToFahrenheit answers the Spanish conversion intent.
func CelsiusToFahrenheit() skill.RequestHandler {
	return skill.NewHandler(
		skill.All(skill.IsIntent(IntentCelsiusToFahrenheit), skill.LocaleHasPrefix("es")),
		func(in *skill.HandlerInput) (*protocol.Response, error) {
			raw, c, err := degreesSlot(in, SlotCelsius)
			if err != nil {
				return nil, err
			}
			speech := in.T(i18n.KeyConverted, map[string]string{
				SlotCelsius:    raw,
				SlotFahrenheit: convert.FormatDegrees(convert.CelsiusToFahrenheit(c)),
			})
			return in.ResponseBuilder.Speak(speech).Response(), nil
		},
	)
}

// FahrenheitToCelsius answers the English conversion intent.
func FahrenheitToCelsius() skill.RequestHandler {
	return skill.NewHandler(
		skill.All(skill.IsIntent(IntentFahrenheitToCelsius), skill.LocaleHasPrefix("en")),
		func(in *skill.HandlerInput) (*protocol.Response, error) {
			raw, f, err := degreesSlot(in, SlotFahrenheit)
			if err != nil {
				return nil, err
			}
			speech := in.T(i18n.KeyConverted, map[string]string{
				SlotFahrenheit: raw,
				SlotCelsius:    convert.FormatDegrees(convert.FahrenheitToCelsius(f)),
			})
			return in.ResponseBuilder.Speak(speech).Response(), nil
		},
	)
}

func degreesSlot(in *skill.HandlerInput, name string) (string, float64, error) {
	raw, ok := skill.SlotValue(in.Envelope, name)
	if !ok {
		return "", 0, fmt.Errorf("slot %s: %w: not filled", name, convert.ErrInvalidDegrees)
	}
	v, err := convert.ParseDegrees(raw)
	if err != nil {
		return "", 0, fmt.Errorf("slot %s: %w", name, err)
	}
	return raw, v, nil
}

func HelloWorld() skill.RequestHandler {
	return skill.NewHandler(skill.IsIntent(IntentHelloWorld), func(in *skill.HandlerInput) (*protocol.Response, error) {
		return in.ResponseBuilder.Speak("Hello World!").Response(), nil
	})
}

func Help() skill.RequestHandler {
	return skill.NewHandler(skill.IsIntent(IntentHelp), func(in *skill.HandlerInput) (*protocol.Response, error) {
		speech := in.T(i18n.KeyHelp, nil)
		return in.ResponseBuilder.Speak(speech).Reprompt(speech).Response(), nil
	})
}

func CancelAndStop() skill.RequestHandler {
	return skill.NewHandler(skill.IsIntent(IntentCancel, IntentStop), func(in *skill.HandlerInput) (*protocol.Response, error) {
		return in.ResponseBuilder.Speak(in.T(i18n.KeyGoodbye, nil)).Response(), nil
	})
}

func Fallback() skill.RequestHandler {
	return skill.NewHandler(skill.IsIntent(IntentFallback), func(in *skill.HandlerInput) (*protocol.Response, error) {
		speech := in.T(i18n.KeyFallback, nil)
		return in.ResponseBuilder.Speak(speech).Reprompt(speech).Response(), nil
	})
}

// SessionEnded logs why the platform closed the session. The platform
// ignores any speech in the reply.
func SessionEnded() skill.RequestHandler {
	return skill.NewHandler(skill.IsRequestType(protocol.RequestTypeSessionEnded), func(in *skill.HandlerInput) (*protocol.Response, error) {
		attrs := []any{
			slog.String("session_id", in.Envelope.SessionID()),
			slog.String("reason", in.Envelope.Request.Reason),
		}
		if e := in.Envelope.Request.Error; e != nil {
			attrs = append(attrs, slog.String("error_type", e.Type), slog.String("error_message", e.Message))
		}
		if data, err := json.Marshal(in.Envelope); err == nil {
			attrs = append(attrs, slog.String("envelope", string(data)))
		}
		in.Logger.Info("session ended", attrs...)
		return in.ResponseBuilder.Response(), nil
	})
}

// IntentReflector echoes any intent no earlier handler claimed. It must be
// registered last.
func IntentReflector() skill.RequestHandler {
	return skill.NewHandler(skill.IsRequestType(protocol.RequestTypeIntent), func(in *skill.HandlerInput) (*protocol.Response, error) {
		speech := fmt.Sprintf("You just triggered %s", skill.IntentName(in.Envelope))
		return in.ResponseBuilder.Speak(speech).Response(), nil
	})
}
