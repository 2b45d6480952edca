package i18n

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Message keys every catalog language must define.
const (
	KeyWelcome   = "WELCOME_MESSAGE"
	KeyHelp      = "HELP_MESSAGE"
	KeyGoodbye   = "GOODBYE_MESSAGE"
	KeyFallback  = "FALLBACK_MESSAGE"
	KeyError     = "ERROR_MESSAGE"
	KeyConverted = "CONVERTED_MESSAGE"
)

var RequiredKeys = []string{KeyWelcome, KeyHelp, KeyGoodbye, KeyFallback, KeyError, KeyConverted}

//go:embed messages.yaml
var defaultMessages []byte

// Catalog maps a locale tag ("en", "es-MX") to its message templates.
type Catalog map[string]map[string]string

// Default returns the catalog compiled into the binary.
func Default() Catalog {
	c, err := Parse(defaultMessages)
	if err != nil {
		panic(fmt.Sprintf("i18n: embedded catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog from disk. An empty path yields the default catalog.
func Load(path string) (Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Catalog, error) {
	var raw Catalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	c := make(Catalog, len(raw))
	for tag, messages := range raw {
		c[normalizeTag(tag)] = messages
	}
	return c, nil
}

// Languages returns the catalog's locale tags in sorted order.
func (c Catalog) Languages() []string {
	tags := make([]string, 0, len(c))
	for tag := range c {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Validate ensures every language carries the required keys and that
// templates have well-formed placeholders.
func Validate(c Catalog) error {
	if len(c) == 0 {
		return fmt.Errorf("catalog must define at least one language")
	}
	for _, tag := range c.Languages() {
		messages := c[tag]
		for _, key := range RequiredKeys {
			if strings.TrimSpace(messages[key]) == "" {
				return fmt.Errorf("language %q is missing %s", tag, key)
			}
		}
		for key, tmpl := range messages {
			if err := checkPlaceholders(tmpl); err != nil {
				return fmt.Errorf("language %q key %s: %w", tag, key, err)
			}
		}
	}
	return nil
}

func checkPlaceholders(tmpl string) error {
	rest := tmpl
	for {
		open := strings.Index(rest, "{{")
		closing := strings.Index(rest, "}}")
		if open < 0 {
			if closing >= 0 {
				return fmt.Errorf("unexpected }} without opening {{")
			}
			return nil
		}
		if closing < open {
			if closing >= 0 {
				return fmt.Errorf("unexpected }} without opening {{")
			}
			return fmt.Errorf("unterminated placeholder")
		}
		name := strings.TrimSpace(rest[open+2 : closing])
		if name == "" || strings.Contains(name, "{{") {
			return fmt.Errorf("malformed placeholder %q", rest[open:closing+2])
		}
		rest = rest[closing+2:]
	}
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(tag), "_", "-"))
}
