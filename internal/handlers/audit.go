package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/convertidor/internal/eventstore"
	"github.com/loqalabs/convertidor/internal/protocol"
	"github.com/loqalabs/convertidor/internal/skill"
)

const auditKeyAttr = "audit.session_key"

// Auditor records each interaction on the event store timeline.
type Auditor struct {
	store   *eventstore.Store
	privacy string
}

func NewAuditor(store *eventstore.Store, privacy string) *Auditor {
	return &Auditor{store: store, privacy: privacy}
}

func (a *Auditor) enabled() bool {
	return a != nil && a.store.Enabled()
}

func (a *Auditor) RequestInterceptor() skill.RequestInterceptor {
	return skill.RequestInterceptorFunc(func(in *skill.HandlerInput) error {
		if !a.enabled() {
			return nil
		}
		a.record(in, eventstore.TypeSkillRequest, in.Envelope.Request)
		return nil
	})
}

func (a *Auditor) ResponseInterceptor() skill.ResponseInterceptor {
	return skill.ResponseInterceptorFunc(func(in *skill.HandlerInput, resp *protocol.Response) error {
		if !a.enabled() {
			return nil
		}
		a.record(in, eventstore.TypeSkillResponse, resp)
		return nil
	})
}

// RecordError stores a failed dispatch.
func (a *Auditor) RecordError(in *skill.HandlerInput, cause error) {
	if !a.enabled() {
		return
	}
	a.record(in, eventstore.TypeSkillError, map[string]string{"error": cause.Error()})
}

func (a *Auditor) record(in *skill.HandlerInput, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		in.Logger.Warn("failed to marshal audit event", slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	evt := eventstore.Event{
		SessionID: sessionKey(in),
		RequestID: in.Envelope.Request.RequestID,
		ActorID:   actorID(in.Envelope),
		Type:      eventType,
		Payload:   data,
		Privacy:   a.privacy,
	}
	if err := a.store.Record(ctx, evt); err != nil {
		in.Logger.Warn("failed to append audit event", slog.String("error", err.Error()))
	}
}

// sessionKey groups sessionless requests under their request ID, or a
// generated ID when the platform sent neither.
func sessionKey(in *skill.HandlerInput) string {
	if key, ok := in.Attributes[auditKeyAttr].(string); ok {
		return key
	}
	key := in.Envelope.SessionID()
	if key == "" && in.Envelope.Request.RequestID != "" {
		key = "request:" + in.Envelope.Request.RequestID
	}
	if key == "" {
		key = "anonymous:" + uuid.NewString()
	}
	in.Attributes[auditKeyAttr] = key
	return key
}

func actorID(env protocol.RequestEnvelope) string {
	if env.Context != nil && env.Context.System != nil && env.Context.System.User != nil {
		return env.Context.System.User.UserID
	}
	if env.Session != nil && env.Session.User != nil {
		return env.Session.User.UserID
	}
	return ""
}
