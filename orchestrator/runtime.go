package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"

	"github.com/playpenhq/playpen/types"
)

// ContainerPort is the fixed port the scaffold listens on inside every
// container; the reserved host port is published onto it.
const ContainerPort = 8080

// ContainerSpec describes one container start.
type ContainerSpec struct {
	Name     string
	Image    string
	HostPort int
	CPU      float64 // cores
	Memory   int64   // bytes
	Env      map[string]string
}

// Runtime is the container-runtime boundary. Every call must be bounded by
// the caller's context. Implemented by the docker CLI in production and by
// a stub in tests.
type Runtime interface {
	Build(ctx context.Context, tag, contextDir string) error
	Start(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	Stop(ctx context.Context, containerID string, grace time.Duration) error
	Restart(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	RemoveImage(ctx context.Context, tag string) error
	Running(ctx context.Context, containerID string) bool
	Logs(ctx context.Context, containerID string, tail int) ([]string, error)
	Stats(ctx context.Context, containerID string) (*types.ResourceUsage, error)
}

// compile-time interface check.
var _ Runtime = (*DockerRuntime)(nil)

// DockerRuntime drives containers through the docker CLI.
type DockerRuntime struct {
	bin string
}

// NewDockerRuntime creates a runtime using the given docker binary.
func NewDockerRuntime(bin string) *DockerRuntime {
	if bin == "" {
		bin = "docker"
	}
	return &DockerRuntime{bin: bin}
}

func (d *DockerRuntime) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.bin, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", d.bin, args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (d *DockerRuntime) Build(ctx context.Context, tag, contextDir string) error {
	_, err := d.run(ctx, "build", "-t", tag, contextDir)
	return err
}

func (d *DockerRuntime) Start(ctx context.Context, spec ContainerSpec) (string, error) {
	args := []string{
		"run", "-d",
		"--name", spec.Name,
		"--restart", "no",
		"-p", fmt.Sprintf("%d:%d", spec.HostPort, ContainerPort),
	}
	if spec.CPU > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(spec.CPU, 'f', -1, 64))
	}
	if spec.Memory > 0 {
		// Plain byte count, no unit suffix.
		args = append(args, "--memory", strconv.FormatInt(spec.Memory, 10))
	}
	for k, v := range spec.Env {
		args = append(args, "--env", k+"="+v)
	}
	args = append(args, spec.Image)
	return d.run(ctx, args...)
}

func (d *DockerRuntime) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	secs := int(grace / time.Second)
	if secs < 1 {
		secs = 1
	}
	_, err := d.run(ctx, "stop", "-t", strconv.Itoa(secs), containerID)
	return err
}

func (d *DockerRuntime) Restart(ctx context.Context, containerID string) error {
	_, err := d.run(ctx, "start", containerID)
	return err
}

func (d *DockerRuntime) Remove(ctx context.Context, containerID string) error {
	_, err := d.run(ctx, "rm", "-f", containerID)
	return err
}

func (d *DockerRuntime) RemoveImage(ctx context.Context, tag string) error {
	_, err := d.run(ctx, "rmi", tag)
	return err
}

func (d *DockerRuntime) Running(ctx context.Context, containerID string) bool {
	out, err := d.run(ctx, "inspect", "-f", "{{.State.Running}}", containerID)
	return err == nil && out == "true"
}

func (d *DockerRuntime) Logs(ctx context.Context, containerID string, tail int) ([]string, error) {
	out, err := d.run(ctx, "logs", "--tail", strconv.Itoa(tail), containerID)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// dockerStats matches `docker stats --format json` for one container.
type dockerStats struct {
	CPUPerc  string `json:"CPUPerc"`
	MemUsage string `json:"MemUsage"`
	NetIO    string `json:"NetIO"`
}

func (d *DockerRuntime) Stats(ctx context.Context, containerID string) (*types.ResourceUsage, error) {
	out, err := d.run(ctx, "stats", "--no-stream", "--format", "json", containerID)
	if err != nil {
		return nil, err
	}
	var raw dockerStats
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("decode docker stats: %w", err)
	}
	usage := &types.ResourceUsage{}
	if v, err := strconv.ParseFloat(strings.TrimSuffix(raw.CPUPerc, "%"), 64); err == nil {
		usage.CPUPercent = v
	}
	// "12.3MiB / 256MiB": keep the used side.
	if used, _, ok := strings.Cut(raw.MemUsage, " / "); ok {
		if b, err := units.RAMInBytes(strings.TrimSpace(used)); err == nil {
			usage.MemoryUsed = b
		}
	}
	// "1.2kB / 3.4kB": rx / tx.
	if rx, tx, ok := strings.Cut(raw.NetIO, " / "); ok {
		if b, err := units.FromHumanSize(strings.TrimSpace(rx)); err == nil {
			usage.NetInput = b
		}
		if b, err := units.FromHumanSize(strings.TrimSpace(tx)); err == nil {
			usage.NetOutput = b
		}
	}
	return usage, nil
}
