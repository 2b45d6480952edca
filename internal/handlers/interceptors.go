package handlers

import (
	"encoding/json"
	"log/slog"

	"github.com/loqalabs/convertidor/internal/i18n"
	"github.com/loqalabs/convertidor/internal/protocol"
	"github.com/loqalabs/convertidor/internal/skill"
)

// Localization binds a translator for the request locale.
func Localization(catalog i18n.Catalog, fallback string) skill.RequestInterceptor {
	return skill.RequestInterceptorFunc(func(in *skill.HandlerInput) error {
		in.Translator = i18n.NewTranslator(catalog, skill.Locale(in.Envelope), fallback)
		return nil
	})
}

func LoggingRequest() skill.RequestInterceptor {
	return skill.RequestInterceptorFunc(func(in *skill.HandlerInput) error {
		data, err := json.Marshal(in.Envelope.Request)
		if err != nil {
			in.Logger.Warn("failed to marshal incoming request", slog.String("error", err.Error()))
			return nil
		}
		in.Logger.Info("incoming request", slog.String("request", string(data)))
		return nil
	})
}

func LoggingResponse() skill.ResponseInterceptor {
	return skill.ResponseInterceptorFunc(func(in *skill.HandlerInput, resp *protocol.Response) error {
		data, err := json.Marshal(resp)
		if err != nil {
			in.Logger.Warn("failed to marshal outgoing response", slog.String("error", err.Error()))
			return nil
		}
		in.Logger.Info("outgoing response", slog.String("response", string(data)))
		return nil
	})
}
