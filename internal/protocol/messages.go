package protocol

import "time"

// Request types delivered by the voice platform.
const (
	RequestTypeLaunch       = "LaunchRequest"
	RequestTypeIntent       = "IntentRequest"
	RequestTypeSessionEnded = "SessionEndedRequest"
)

const EnvelopeVersion = "1.0"

// RequestEnvelope is the structured event the voice platform sends for every
// user interaction.
type RequestEnvelope struct {
	Version string   `json:"version"`
	Session *Session `json:"session,omitempty"`
	Context *Context `json:"context,omitempty"`
	Request Request  `json:"request"`
}

type Session struct {
	New         bool           `json:"new"`
	SessionID   string         `json:"sessionId"`
	Application *Application   `json:"application,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	User        *User          `json:"user,omitempty"`
}

type Application struct {
	ApplicationID string `json:"applicationId"`
}

type User struct {
	UserID string `json:"userId"`
}

type Device struct {
	DeviceID string `json:"deviceId"`
}

type Context struct {
	System *System `json:"System,omitempty"`
}

type System struct {
	Application *Application `json:"application,omitempty"`
	User        *User        `json:"user,omitempty"`
	Device      *Device      `json:"device,omitempty"`
}

// Request carries the type-specific payload. Intent is set for
// IntentRequest; Reason and Error for SessionEndedRequest.
type Request struct {
	Type      string        `json:"type"`
	RequestID string        `json:"requestId"`
	Timestamp time.Time     `json:"timestamp"`
	Locale    string        `json:"locale,omitempty"`
	Intent    *Intent       `json:"intent,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Error     *RequestError `json:"error,omitempty"`
}

type Intent struct {
	Name               string          `json:"name"`
	ConfirmationStatus string          `json:"confirmationStatus,omitempty"`
	Slots              map[string]Slot `json:"slots,omitempty"`
}

type Slot struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

type RequestError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ApplicationID returns the skill ID the envelope was addressed to.
func (e RequestEnvelope) ApplicationID() string {
	if e.Context != nil && e.Context.System != nil && e.Context.System.Application != nil {
		return e.Context.System.Application.ApplicationID
	}
	if e.Session != nil && e.Session.Application != nil {
		return e.Session.Application.ApplicationID
	}
	return ""
}

// SessionID returns the platform session ID, or "" for sessionless requests.
func (e RequestEnvelope) SessionID() string {
	if e.Session == nil {
		return ""
	}
	return e.Session.SessionID
}

// ResponseEnvelope is what the skill returns to the platform.
type ResponseEnvelope struct {
	Version           string         `json:"version"`
	SessionAttributes map[string]any `json:"sessionAttributes,omitempty"`
	UserAgent         string         `json:"userAgent,omitempty"`
	Response          Response       `json:"response"`
}

type Response struct {
	OutputSpeech     *OutputSpeech `json:"outputSpeech,omitempty"`
	Reprompt         *Reprompt     `json:"reprompt,omitempty"`
	ShouldEndSession *bool         `json:"shouldEndSession,omitempty"`
}

type Reprompt struct {
	OutputSpeech *OutputSpeech `json:"outputSpeech"`
}

const OutputSpeechSSML = "SSML"

type OutputSpeech struct {
	Type string `json:"type"`
	SSML string `json:"ssml,omitempty"`
	Text string `json:"text,omitempty"`
}

// ErrorReply is returned on the bus when the skill could not produce a
// response envelope.
type ErrorReply struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// AuditRecord summarises a handled request for bus observers.
type AuditRecord struct {
	RequestID  string    `json:"request_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Type       string    `json:"type"`
	Intent     string    `json:"intent,omitempty"`
	Locale     string    `json:"locale,omitempty"`
	Speech     string    `json:"speech,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectSkillRequest   = "skill.convertidor.request"
	SubjectSkillAudit     = "skill.convertidor.audit"
	SubjectNodeAnnounce   = "ctrl.node.announce"
	SubjectNodeHeartbeats = "ctrl.node.heartbeat.*"
	SubjectHeartbeatFmt   = "ctrl.node.heartbeat.%s"
)
