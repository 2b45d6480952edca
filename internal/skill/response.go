package skill

import (
	"strings"

	"github.com/loqalabs/convertidor/internal/protocol"
)

// ResponseBuilder accumulates the spoken response for one request.
type ResponseBuilder struct {
	resp protocol.Response
}

func NewResponseBuilder() *ResponseBuilder {
	return &ResponseBuilder{}
}

func (b *ResponseBuilder) Speak(text string) *ResponseBuilder {
	b.resp.OutputSpeech = ssml(text)
	return b
}

// Reprompt sets the follow-up speech and keeps the session open.
func (b *ResponseBuilder) Reprompt(text string) *ResponseBuilder {
	b.resp.Reprompt = &protocol.Reprompt{OutputSpeech: ssml(text)}
	open := false
	b.resp.ShouldEndSession = &open
	return b
}

func (b *ResponseBuilder) WithShouldEndSession(end bool) *ResponseBuilder {
	b.resp.ShouldEndSession = &end
	return b
}

// Response returns a copy of the accumulated response.
func (b *ResponseBuilder) Response() *protocol.Response {
	r := b.resp
	return &r
}

func ssml(text string) *protocol.OutputSpeech {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "<speak>")
	text = strings.TrimSuffix(text, "</speak>")
	return &protocol.OutputSpeech{
		Type: protocol.OutputSpeechSSML,
		SSML: "<speak>" + text + "</speak>",
	}
}

// SpeechText strips the SSML wrapper from an output speech.
func SpeechText(speech *protocol.OutputSpeech) string {
	if speech == nil {
		return ""
	}
	if speech.Type != protocol.OutputSpeechSSML {
		return speech.Text
	}
	text := strings.TrimPrefix(speech.SSML, "<speak>")
	return strings.TrimSuffix(text, "</speak>")
}
