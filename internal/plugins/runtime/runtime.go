package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/loqalabs/convertidor/internal/plugins/manifest"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Runtime wraps a wazero runtime for executing plugin modules.
type Runtime struct {
	rt   wazero.Runtime
	host HostBindings
}

// New creates a plugin runtime. Cancelling ctx during Invoke aborts the
// running module.
func New(ctx context.Context, host HostBindings) (*Runtime, error) {
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	host = host.ensure()
	if err := instantiateHostModule(ctx, rt, host); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	return &Runtime{rt: rt, host: host}, nil
}

// Close releases resources held by the runtime.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil || r.rt == nil {
		return nil
	}
	return r.rt.Close(ctx)
}

// Module is a plugin instantiated and ready to run.
type Module struct {
	Manifest manifest.Manifest
	module   api.Module
	entry    api.Function
	compiled wazero.CompiledModule
}

// Close releases resources for the module.
func (m *Module) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if m.module != nil {
		if err := m.module.Close(ctx); err != nil {
			return err
		}
	}
	if m.compiled != nil {
		if err := m.compiled.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Load compiles and instantiates the module m.Runtime.Module points at.
func (r *Runtime) Load(ctx context.Context, m manifest.Manifest, env map[string]string) (*Module, error) {
	if r == nil || r.rt == nil {
		return nil, fmt.Errorf("runtime not initialized")
	}
	if m.Runtime.Mode != "wasm" {
		return nil, fmt.Errorf("unsupported runtime mode %q", m.Runtime.Mode)
	}
	wasmBytes, err := os.ReadFile(m.Runtime.Module)
	if err != nil {
		return nil, fmt.Errorf("read wasm module: %w", err)
	}
	return r.LoadBytes(ctx, m, wasmBytes, env)
}

// LoadBytes is Load for a module already in memory.
func (r *Runtime) LoadBytes(ctx context.Context, m manifest.Manifest, wasmBytes []byte, env map[string]string) (*Module, error) {
	compiled, err := r.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	moduleConfig := wazero.NewModuleConfig().WithName(m.Metadata.Name)
	for k, v := range env {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}
	module, err := r.rt.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("instantiate module: %w", err)
	}
	entry := module.ExportedFunction(m.Runtime.Entrypoint)
	if entry == nil {
		_ = module.Close(ctx)
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("entrypoint %q not found", m.Runtime.Entrypoint)
	}
	return &Module{
		Manifest: m,
		module:   module,
		entry:    entry,
		compiled: compiled,
	}, nil
}

// Invoke runs the entrypoint. The request reaches the module through its
// environment; output comes back through the host functions.
func (m *Module) Invoke(ctx context.Context) error {
	if m == nil || m.entry == nil {
		return fmt.Errorf("plugin entrypoint not available")
	}
	_, err := m.entry.Call(ctx)
	return err
}

// readString copies len bytes at ptr out of the calling module's memory.
func readString(mod api.Module, ptr, length uint32) (string, error) {
	if length == 0 {
		return "", nil
	}
	mem := mod.Memory()
	if mem == nil {
		return "", errors.New("module has no memory")
	}
	data, ok := mem.Read(ptr, length)
	if !ok {
		return "", fmt.Errorf("unable to read memory (ptr=%d len=%d)", ptr, length)
	}
	return string(data), nil
}

func instantiateHostModule(ctx context.Context, rt wazero.Runtime, host HostBindings) error {
	logger := host.Logger
	builder := rt.NewHostModuleBuilder("env")

	textFunc := func(name string, sink func(string) error) {
		fn := api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			text, err := readString(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			if err == nil {
				err = sink(text)
			}
			if err != nil {
				logger.Warn("plugin host call failed", slog.String("function", name), slog.String("error", err.Error()))
				return
			}
			if host.RecordAudit != nil {
				host.RecordAudit(AuditEvent{Type: "plugin." + name, Data: map[string]any{"bytes": len(text)}})
			}
		})
		builder.NewFunctionBuilder().
			WithGoModuleFunction(fn, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
			WithName(name).
			Export(name)
	}

	textFunc("host_log", host.Log)
	textFunc("host_speak", host.Speak)
	textFunc("host_reprompt", host.Reprompt)

	_, err := builder.Instantiate(ctx)
	return err
}

// HostBindings receive what a plugin hands to the host functions.
type HostBindings struct {
	Logger      *slog.Logger
	Log         func(message string) error
	Speak       func(text string) error
	Reprompt    func(text string) error
	RecordAudit func(event AuditEvent)
}

func (h HostBindings) ensure() HostBindings {
	if h.Logger == nil {
		h.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if h.Log == nil {
		logger := h.Logger
		h.Log = func(message string) error {
			logger.Info("plugin log", slog.String("message", message))
			return nil
		}
	}
	if h.Speak == nil {
		h.Speak = func(string) error { return errors.New("speech disallowed") }
	}
	if h.Reprompt == nil {
		h.Reprompt = func(string) error { return errors.New("speech disallowed") }
	}
	return h
}

type AuditEvent struct {
	Type string
	Data map[string]any
}
