package provider

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// NvidiaSMI reads the first GPU's core temperature via nvidia-smi.
type NvidiaSMI struct {
	Command string
	// run executes the command and returns stdout. Replaced in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewNvidiaSMI(command string) *NvidiaSMI {
	if command == "" {
		command = "nvidia-smi"
	}
	return &NvidiaSMI{Command: command, run: runCommand}
}

func (n *NvidiaSMI) Name() string {
	return "nvidia-smi"
}

func (n *NvidiaSMI) Poll(ctx context.Context) (float64, error) {
	out, err := n.run(ctx, n.Command, "--query-gpu=temperature.gpu", "--format=csv,noheader,nounits")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return 0, NewPermanent(err)
		}
		return 0, err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, NewPermanent(errors.New("nvidia-smi reported no GPUs"))
	}
	v, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, fmt.Errorf("parse nvidia-smi output %q: %w", line, err)
	}
	return v, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
