package manifest

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the manifest the loader looks for in each plugin directory.
const FileName = "plugin.yaml"

// Permissions a plugin may request.
const (
	PermissionSpeech = "speech:output"
	PermissionLog    = "log:write"
)

// Manifest describes a convertidor intent plugin.
type Manifest struct {
	Metadata    Metadata    `yaml:"metadata"`
	Runtime     RuntimeSpec `yaml:"runtime"`
	Intents     []string    `yaml:"intents"`
	Locales     []string    `yaml:"locales,omitempty"`
	Permissions []string    `yaml:"permissions"`
}

type Metadata struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Author      string   `yaml:"author"`
	Tags        []string `yaml:"tags,omitempty"`
}

type RuntimeSpec struct {
	Mode        string `yaml:"mode"`
	Module      string `yaml:"module"`
	Entrypoint  string `yaml:"entrypoint"`
	HostVersion string `yaml:"host_version"`
	// Command is the shell-quoted command line for exec plugins.
	Command string `yaml:"command,omitempty"`
}

// Load reads a manifest from disk.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate ensures manifest contains required fields.
func Validate(m Manifest) error {
	if m.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if m.Metadata.Version == "" {
		return fmt.Errorf("metadata.version is required")
	}
	if m.Runtime.Mode == "" {
		return fmt.Errorf("runtime.mode is required")
	}
	switch m.Runtime.Mode {
	case "wasm":
		if m.Runtime.Module == "" {
			return fmt.Errorf("runtime.module is required for wasm")
		}
		if m.Runtime.Entrypoint == "" {
			return fmt.Errorf("runtime.entrypoint is required for wasm")
		}
	case "exec":
		if strings.TrimSpace(m.Runtime.Command) == "" {
			return fmt.Errorf("runtime.command is required for exec")
		}
	default:
		return fmt.Errorf("runtime.mode %q not supported", m.Runtime.Mode)
	}
	if len(m.Intents) == 0 {
		return fmt.Errorf("intents must name at least one intent")
	}
	for i, intent := range m.Intents {
		if strings.TrimSpace(intent) == "" {
			return fmt.Errorf("intents[%d] is empty", i)
		}
	}
	for i, locale := range m.Locales {
		if strings.TrimSpace(locale) == "" {
			return fmt.Errorf("locales[%d] is empty", i)
		}
	}
	if len(m.Permissions) == 0 {
		return fmt.Errorf("permissions must include at least one entry")
	}
	if !m.HasPermission(PermissionSpeech) {
		return fmt.Errorf("permissions must include %s", PermissionSpeech)
	}
	for _, perm := range m.Permissions {
		switch perm {
		case PermissionSpeech, PermissionLog:
		default:
			return fmt.Errorf("permission %q not recognised", perm)
		}
	}
	return nil
}

func (m Manifest) HasPermission(perm string) bool {
	for _, p := range m.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
