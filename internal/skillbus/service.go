package skillbus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/convertidor/internal/bus"
	"github.com/loqalabs/convertidor/internal/protocol"
	"github.com/loqalabs/convertidor/internal/skill"
	"github.com/nats-io/nats.go"
)

// Invoker runs one request envelope through the skill.
type Invoker interface {
	Invoke(ctx context.Context, env protocol.RequestEnvelope) (protocol.ResponseEnvelope, error)
}

// Service answers skill requests arriving on the bus with request/reply.
type Service struct {
	bus        *bus.Client
	invoker    Invoker
	queueGroup string
	timeout    time.Duration
	logger     *slog.Logger
	sub        *nats.Subscription
	ctx        context.Context
	cancel     context.CancelFunc

	// mu guards closed so no invocation is added to wg once Close waits.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewService(parent context.Context, busClient *bus.Client, invoker Invoker, queueGroup string, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:        busClient,
		invoker:    invoker,
		queueGroup: queueGroup,
		timeout:    8 * time.Second,
		logger:     logger.With(slog.String("component", "skillbus")),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectSkillRequest, s.queueGroup, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("skill subscribed", slog.String("subject", protocol.SubjectSkillRequest), slog.String("queue", s.queueGroup))
	return nil
}

// Close stops taking requests and waits for in-flight invocations. Requests
// still queued in the subscription are dropped without a reply.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			s.logger.Warn("failed to unsubscribe", slogError(err))
		}
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.sub != nil && s.sub.IsValid()
}

func (s *Service) handleRequest(msg *nats.Msg) {
	if !s.track() {
		return
	}
	var env protocol.RequestEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		s.logger.Warn("failed to decode request envelope", slogError(err))
		s.reply(msg, protocol.ErrorReply{Error: "invalid_request", Message: err.Error()})
		s.wg.Done()
		return
	}
	if env.Request.RequestID == "" {
		env.Request.RequestID = "bus." + uuid.NewString()
	}

	go func() {
		defer s.wg.Done()
		s.invoke(msg, env)
	}()
}

// track adds one request to wg unless Close has started.
func (s *Service) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Service) invoke(msg *nats.Msg, env protocol.RequestEnvelope) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	out, err := s.invoker.Invoke(ctx, env)
	record := protocol.AuditRecord{
		RequestID:  env.Request.RequestID,
		SessionID:  env.SessionID(),
		Type:       env.Request.Type,
		Intent:     skill.IntentName(env),
		Locale:     env.Request.Locale,
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}

	if err != nil {
		s.logger.Warn("skill invocation failed", slog.String("request_id", env.Request.RequestID), slogError(err))
		code := "skill_error"
		if errors.Is(err, skill.ErrSkillIDMismatch) {
			code = "forbidden"
		}
		record.Error = err.Error()
		s.reply(msg, protocol.ErrorReply{Error: code, Message: err.Error()})
		s.publishAudit(record)
		return
	}

	record.Speech = skill.SpeechText(out.Response.OutputSpeech)
	s.reply(msg, out)
	s.publishAudit(record)
}

func (s *Service) reply(msg *nats.Msg, payload any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send reply", slogError(err))
	}
}

func (s *Service) publishAudit(record protocol.AuditRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		s.logger.Warn("failed to marshal audit record", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectSkillAudit, data); err != nil {
		s.logger.Warn("failed to publish audit record", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
