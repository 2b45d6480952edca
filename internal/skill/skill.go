package skill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/convertidor/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var Version = "0.1.0-dev"

var (
	ErrNoHandler       = errors.New("unable to find a suitable request handler")
	ErrSkillIDMismatch = errors.New("skill id verification failed")
)

const instrumentationName = "github.com/loqalabs/convertidor/skill"

// Builder assembles a Skill from handlers and interceptors. Registration
// order is dispatch order.
type Builder struct {
	handlers      []RequestHandler
	errorHandlers []ErrorHandler
	requestInts   []RequestInterceptor
	responseInts  []ResponseInterceptor
	userAgent     string
	skillID       string
	logger        *slog.Logger
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) AddRequestHandlers(h ...RequestHandler) *Builder {
	b.handlers = append(b.handlers, h...)
	return b
}

func (b *Builder) AddErrorHandlers(h ...ErrorHandler) *Builder {
	b.errorHandlers = append(b.errorHandlers, h...)
	return b
}

func (b *Builder) AddRequestInterceptors(i ...RequestInterceptor) *Builder {
	b.requestInts = append(b.requestInts, i...)
	return b
}

func (b *Builder) AddResponseInterceptors(i ...ResponseInterceptor) *Builder {
	b.responseInts = append(b.responseInts, i...)
	return b
}

// WithCustomUserAgent appends ua to the user agent reported in every
// response envelope.
func (b *Builder) WithCustomUserAgent(ua string) *Builder {
	b.userAgent = ua
	return b
}

// WithSkillID enables application ID verification.
func (b *Builder) WithSkillID(id string) *Builder {
	b.skillID = id
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) Create() *Skill {
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ua := "convertidor/" + Version
	if custom := strings.TrimSpace(b.userAgent); custom != "" {
		ua += " " + custom
	}
	s := &Skill{
		handlers:      append([]RequestHandler(nil), b.handlers...),
		errorHandlers: append([]ErrorHandler(nil), b.errorHandlers...),
		requestInts:   append([]RequestInterceptor(nil), b.requestInts...),
		responseInts:  append([]ResponseInterceptor(nil), b.responseInts...),
		userAgent:     ua,
		skillID:       strings.TrimSpace(b.skillID),
		logger:        logger.With(slog.String("component", "skill")),
		tracer:        otel.Tracer(instrumentationName),
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s
}

// Skill dispatches request envelopes through the registered pipeline. It is
// safe for concurrent use once created.
type Skill struct {
	handlers      []RequestHandler
	errorHandlers []ErrorHandler
	requestInts   []RequestInterceptor
	responseInts  []ResponseInterceptor
	userAgent     string
	skillID       string
	logger        *slog.Logger
	tracer        trace.Tracer
	requests      metric.Int64Counter
	duration      metric.Float64Histogram
}

func (s *Skill) UserAgent() string { return s.userAgent }

// Invoke runs one request through interceptors, the first matching handler
// and, on failure, the first matching error handler.
func (s *Skill) Invoke(ctx context.Context, env protocol.RequestEnvelope) (protocol.ResponseEnvelope, error) {
	start := time.Now()
	intent := IntentName(env)
	ctx, span := s.tracer.Start(ctx, "skill.invoke", trace.WithAttributes(
		attribute.String("skill.request_type", env.Request.Type),
		attribute.String("skill.intent", intent),
		attribute.String("skill.locale", env.Request.Locale),
	))
	defer span.End()

	outcome := "ok"
	defer func() {
		s.record(ctx, env.Request.Type, intent, outcome, time.Since(start))
	}()

	if s.skillID != "" {
		if got := env.ApplicationID(); got != s.skillID {
			outcome = "rejected"
			err := fmt.Errorf("%w: got %q", ErrSkillIDMismatch, got)
			span.SetStatus(codes.Error, err.Error())
			return protocol.ResponseEnvelope{}, err
		}
	}

	in := s.newInput(ctx, env)
	resp, err := s.dispatch(in)
	if err != nil {
		span.RecordError(err)
		outcome = "handled_error"
		resp, err = s.handleError(in, err)
		if err != nil {
			outcome = "failed"
			span.SetStatus(codes.Error, err.Error())
			return protocol.ResponseEnvelope{}, err
		}
	}

	out := protocol.ResponseEnvelope{
		Version:   protocol.EnvelopeVersion,
		UserAgent: s.userAgent,
		Response:  *resp,
	}
	if env.Session != nil {
		out.SessionAttributes = in.SessionAttributes
	}
	return out, nil
}

func (s *Skill) newInput(ctx context.Context, env protocol.RequestEnvelope) *HandlerInput {
	session := make(map[string]any)
	if env.Session != nil {
		for k, v := range env.Session.Attributes {
			session[k] = v
		}
	}
	return &HandlerInput{
		Context:           ctx,
		Envelope:          env,
		Attributes:        make(map[string]any),
		SessionAttributes: session,
		ResponseBuilder:   NewResponseBuilder(),
		Logger: s.logger.With(
			slog.String("request_id", env.Request.RequestID),
			slog.String("request_type", env.Request.Type),
		),
	}
}

func (s *Skill) dispatch(in *HandlerInput) (*protocol.Response, error) {
	for _, interceptor := range s.requestInts {
		if err := interceptor.Process(in); err != nil {
			return nil, fmt.Errorf("request interceptor: %w", err)
		}
	}

	var chosen RequestHandler
	for _, h := range s.handlers {
		if h.CanHandle(in) {
			chosen = h
			break
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("%w: type=%s intent=%s", ErrNoHandler, in.Envelope.Request.Type, IntentName(in.Envelope))
	}

	resp, err := chosen.Handle(in)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &protocol.Response{}
	}

	for _, interceptor := range s.responseInts {
		if err := interceptor.Process(in, resp); err != nil {
			return nil, fmt.Errorf("response interceptor: %w", err)
		}
	}
	return resp, nil
}

func (s *Skill) handleError(in *HandlerInput, cause error) (*protocol.Response, error) {
	// The failed handler may have partially filled the builder.
	in.ResponseBuilder = NewResponseBuilder()
	for _, h := range s.errorHandlers {
		if !h.CanHandle(in, cause) {
			continue
		}
		resp, err := h.Handle(in, cause)
		if err != nil {
			return nil, errors.Join(cause, err)
		}
		if resp == nil {
			resp = &protocol.Response{}
		}
		return resp, nil
	}
	return nil, cause
}

func (s *Skill) initMetrics() error {
	meter := otel.Meter(instrumentationName)
	requests, err := meter.Int64Counter("convertidor.skill.requests",
		metric.WithDescription("Skill requests by type, intent and outcome"))
	if err != nil {
		return err
	}
	duration, err := meter.Float64Histogram("convertidor.skill.duration",
		metric.WithDescription("Skill dispatch latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return err
	}
	s.requests = requests
	s.duration = duration
	return nil
}

func (s *Skill) record(ctx context.Context, requestType, intent, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("request_type", requestType),
		attribute.String("intent", intent),
		attribute.String("outcome", outcome),
	)
	if s.requests != nil {
		s.requests.Add(ctx, 1, attrs)
	}
	if s.duration != nil {
		s.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
}
