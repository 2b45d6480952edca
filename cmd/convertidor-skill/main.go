package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/loqalabs/convertidor/internal/config"
	"github.com/loqalabs/convertidor/internal/i18n"
	"github.com/loqalabs/convertidor/internal/plugins/manifest"
	"github.com/loqalabs/convertidor/internal/protocol"
	"github.com/loqalabs/convertidor/internal/runtime"
	"github.com/loqalabs/convertidor/internal/skill"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate-catalog', 'validate-plugin', 'invoke' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate-catalog":
		cmd := flag.NewFlagSet("validate-catalog", flag.ExitOnError)
		path := cmd.String("file", "messages.yaml", "Path to message catalog")
		cmd.Parse(os.Args[2:])
		if err := runValidateCatalog(*path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("catalog valid")
	case "validate-plugin":
		cmd := flag.NewFlagSet("validate-plugin", flag.ExitOnError)
		path := cmd.String("file", manifest.FileName, "Path to plugin manifest")
		cmd.Parse(os.Args[2:])
		if err := runValidatePlugin(*path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("manifest valid")
	case "invoke":
		cmd := flag.NewFlagSet("invoke", flag.ExitOnError)
		path := cmd.String("file", "-", "Request envelope JSON, - for stdin")
		locale := cmd.String("locale", "", "Override the request locale")
		configPath := cmd.String("config", "", "Optional configuration file")
		cmd.Parse(os.Args[2:])
		if err := runInvoke(*path, *locale, *configPath, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(skill.Version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runValidateCatalog(path string) error {
	c, err := i18n.Load(path)
	if err != nil {
		return err
	}
	return i18n.Validate(c)
}

func runValidatePlugin(path string) error {
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	return manifest.Validate(m)
}

func runInvoke(path, locale, configPath string, out io.Writer) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read envelope: %w", err)
	}
	var env protocol.RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if locale != "" {
		env.Request.Locale = locale
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Skill.LogEnvelopes = false
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	components, err := runtime.BuildSkill(cfg, nil, logger)
	if err != nil {
		return err
	}

	resp, err := components.Skill.Invoke(context.Background(), env)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
