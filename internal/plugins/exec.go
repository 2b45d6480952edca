package plugins

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// execReply is the single JSON line an exec plugin writes to stdout.
type execReply struct {
	Speech   string `json:"speech"`
	Reprompt string `json:"reprompt,omitempty"`
	Log      string `json:"log,omitempty"`
}

func parseCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse plugin command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("plugin command empty")
	}
	return args, nil
}

// runExec writes the envelope to the command's stdin and reads the first
// non-empty stdout line as the reply.
func runExec(ctx context.Context, dir string, args []string, env []string, payload []byte) (execReply, error) {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = append(cmd.Environ(), env...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if stderr.Len() > 0 {
			return execReply{}, fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return execReply{}, err
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var reply execReply
		if err := json.Unmarshal(line, &reply); err != nil {
			return execReply{}, fmt.Errorf("decode plugin reply: %w", err)
		}
		return reply, nil
	}
	if err := scanner.Err(); err != nil {
		return execReply{}, err
	}
	return execReply{}, nil
}
