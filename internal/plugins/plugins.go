// Package plugins lets sandboxed WebAssembly modules answer intents the
// built-in handlers do not cover.
package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/convertidor/internal/eventstore"
	manifestpkg "github.com/loqalabs/convertidor/internal/plugins/manifest"
	pluginrt "github.com/loqalabs/convertidor/internal/plugins/runtime"
	"github.com/loqalabs/convertidor/internal/protocol"
	"github.com/loqalabs/convertidor/internal/skill"
)

// EnvRequest carries the request envelope JSON into the module.
const EnvRequest = "CONVERTIDOR_REQUEST"

// ErrNoSpeech is returned when a plugin finishes without calling host_speak.
var ErrNoSpeech = errors.New("plugin produced no speech")

type Options struct {
	Timeout      time.Duration
	Store        *eventstore.Store
	AuditPrivacy string
	Logger       *slog.Logger
}

// Plugin is a loaded manifest acting as a skill.RequestHandler.
type Plugin struct {
	manifest manifestpkg.Manifest
	dir      string
	command  []string
	intents  map[string]struct{}
	opts     Options
	log      *slog.Logger
}

// Load walks dir for plugin manifests. Invalid plugins are logged and
// skipped; duplicate names keep the first one found.
func Load(dir string, opts Options) ([]*Plugin, error) {
	if dir == "" {
		return nil, errors.New("plugins directory not configured")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	log := opts.Logger.With(slog.String("component", "plugins"))

	var loaded []*Plugin
	seen := make(map[string]bool)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(d.Name(), manifestpkg.FileName) {
			return nil
		}
		p, err := Open(path, opts)
		if err != nil {
			log.Error("failed to load plugin", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if seen[p.Name()] {
			log.Error("duplicate plugin name", slog.String("plugin", p.Name()), slog.String("path", path))
			return nil
		}
		seen[p.Name()] = true
		loaded = append(loaded, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(loaded) == 0 {
		log.Warn("no plugins discovered", slog.String("directory", dir))
	} else {
		log.Info("plugins discovered", slog.Int("count", len(loaded)))
	}
	return loaded, nil
}

// Open loads and validates a single manifest. A wasm module path is
// resolved relative to the manifest and must exist; exec commands run from
// the manifest directory.
func Open(manifestPath string, opts Options) (*Plugin, error) {
	mf, err := manifestpkg.Load(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if err := manifestpkg.Validate(mf); err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	dir := filepath.Dir(manifestPath)
	p := newPlugin(mf, dir, opts)

	switch mf.Runtime.Mode {
	case "exec":
		args, err := parseCommand(mf.Runtime.Command)
		if err != nil {
			return nil, err
		}
		p.command = args
	default:
		modulePath := mf.Runtime.Module
		if !filepath.IsAbs(modulePath) {
			modulePath = filepath.Join(dir, modulePath)
		}
		if _, err := os.Stat(modulePath); err != nil {
			return nil, fmt.Errorf("module: %w", err)
		}
		p.manifest.Runtime.Module = modulePath
	}
	return p, nil
}

func newPlugin(mf manifestpkg.Manifest, dir string, opts Options) *Plugin {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	intents := make(map[string]struct{}, len(mf.Intents))
	for _, name := range mf.Intents {
		intents[name] = struct{}{}
	}
	return &Plugin{
		manifest: mf,
		dir:      dir,
		intents:  intents,
		opts:     opts,
		log:      opts.Logger.With(slog.String("component", "plugins"), slog.String("plugin", mf.Metadata.Name)),
	}
}

func (p *Plugin) Name() string { return p.manifest.Metadata.Name }

// Intents lists the intent names the plugin answers.
func (p *Plugin) Intents() []string {
	return append([]string(nil), p.manifest.Intents...)
}

func (p *Plugin) CanHandle(in *skill.HandlerInput) bool {
	if skill.RequestType(in.Envelope) != protocol.RequestTypeIntent {
		return false
	}
	if _, ok := p.intents[skill.IntentName(in.Envelope)]; !ok {
		return false
	}
	if len(p.manifest.Locales) == 0 {
		return true
	}
	locale := strings.ToLower(skill.Locale(in.Envelope))
	for _, prefix := range p.manifest.Locales {
		if strings.HasPrefix(locale, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

func (p *Plugin) Handle(in *skill.HandlerInput) (*protocol.Response, error) {
	if p.command != nil {
		return p.runCommand(in)
	}
	return p.run(in)
}

func (p *Plugin) invocationEnv(in *skill.HandlerInput, invocationID string) (map[string]string, error) {
	payload, err := json.Marshal(in.Envelope)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: encode request: %w", p.Name(), err)
	}
	return map[string]string{
		EnvRequest:                 string(payload),
		"CONVERTIDOR_PLUGIN_NAME":  p.Name(),
		"CONVERTIDOR_INVOCATION":   invocationID,
		"CONVERTIDOR_REQUEST_LANG": in.Translator.Language(),
	}, nil
}

func (p *Plugin) invocationContext(in *skill.HandlerInput) (context.Context, context.CancelFunc) {
	parent := in.Context
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, p.opts.Timeout)
}

func (p *Plugin) runCommand(in *skill.HandlerInput) (*protocol.Response, error) {
	ctx, cancel := p.invocationContext(in)
	defer cancel()

	invocationID := uuid.NewString()
	env, err := p.invocationEnv(in, invocationID)
	if err != nil {
		return nil, err
	}
	environ := make([]string, 0, len(env))
	for k, v := range env {
		environ = append(environ, k+"="+v)
	}

	start := time.Now()
	reply, err := runExec(ctx, p.dir, p.command, environ, []byte(env[EnvRequest]))
	if err == nil && reply.Speech == "" {
		err = ErrNoSpeech
	}
	p.audit(in, invocationID, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", p.Name(), err)
	}
	if reply.Log != "" && p.manifest.HasPermission(manifestpkg.PermissionLog) {
		p.log.Info("plugin log", slog.String("invocation_id", invocationID), slog.String("message", reply.Log))
	}

	rb := in.ResponseBuilder.Speak(reply.Speech)
	if reply.Reprompt != "" {
		rb.Reprompt(reply.Reprompt)
	}
	return rb.Response(), nil
}

type output struct {
	mu       sync.Mutex
	speech   string
	reprompt string
}

func (p *Plugin) run(in *skill.HandlerInput) (*protocol.Response, error) {
	ctx, cancel := p.invocationContext(in)
	defer cancel()

	invocationID := uuid.NewString()
	env, err := p.invocationEnv(in, invocationID)
	if err != nil {
		return nil, err
	}

	log := p.log.With(slog.String("invocation_id", invocationID))
	out := &output{}
	bindings := pluginrt.HostBindings{
		Logger: log,
		Log: func(message string) error {
			if !p.manifest.HasPermission(manifestpkg.PermissionLog) {
				return fmt.Errorf("missing permission %s", manifestpkg.PermissionLog)
			}
			log.Info("plugin log", slog.String("message", message))
			return nil
		},
		Speak: func(text string) error {
			out.mu.Lock()
			defer out.mu.Unlock()
			out.speech = text
			return nil
		},
		Reprompt: func(text string) error {
			out.mu.Lock()
			defer out.mu.Unlock()
			out.reprompt = text
			return nil
		},
		RecordAudit: func(evt pluginrt.AuditEvent) {
			payload := map[string]any{
				"invocation_id": invocationID,
				"plugin":        p.Name(),
				"call":          evt.Type,
			}
			for k, v := range evt.Data {
				payload[k] = v
			}
			p.record(in, eventstore.TypePluginHost, payload)
		},
	}

	rt, err := pluginrt.New(ctx, bindings)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: init runtime: %w", p.Name(), err)
	}
	defer rt.Close(context.Background())

	mod, err := rt.Load(ctx, p.manifest, env)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", p.Name(), err)
	}
	defer mod.Close(context.Background())

	start := time.Now()
	invokeErr := mod.Invoke(ctx)
	if invokeErr == nil && out.speech == "" {
		invokeErr = ErrNoSpeech
	}
	p.audit(in, invocationID, time.Since(start), invokeErr)
	if invokeErr != nil {
		return nil, fmt.Errorf("plugin %s: %w", p.Name(), invokeErr)
	}

	rb := in.ResponseBuilder.Speak(out.speech)
	if out.reprompt != "" {
		rb.Reprompt(out.reprompt)
	}
	return rb.Response(), nil
}

func (p *Plugin) audit(in *skill.HandlerInput, invocationID string, elapsed time.Duration, invokeErr error) {
	payload := map[string]any{
		"invocation_id": invocationID,
		"plugin":        p.Name(),
		"version":       p.manifest.Metadata.Version,
		"intent":        skill.IntentName(in.Envelope),
		"duration_ms":   elapsed.Milliseconds(),
	}
	if invokeErr != nil {
		payload["error"] = invokeErr.Error()
	}
	p.record(in, eventstore.TypePluginInvoke, payload)
}

// record appends one event to the plugin's own session in the store.
func (p *Plugin) record(in *skill.HandlerInput, eventType string, payload map[string]any) {
	if !p.opts.Store.Enabled() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn("failed to marshal audit event", slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	evt := eventstore.Event{
		SessionID: "plugin:" + p.Name(),
		RequestID: in.Envelope.Request.RequestID,
		ActorID:   p.Name(),
		Type:      eventType,
		Payload:   data,
		Privacy:   p.opts.AuditPrivacy,
	}
	if err := p.opts.Store.Record(ctx, evt); err != nil {
		p.log.Warn("failed to append audit event", slog.String("error", err.Error()))
	}
}

// Handlers adapts plugins for skill.Builder.AddRequestHandlers.
func Handlers(plugins []*Plugin) []skill.RequestHandler {
	out := make([]skill.RequestHandler, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, p)
	}
	return out
}
