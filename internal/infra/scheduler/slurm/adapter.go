// Package slurm drives a Slurm-flavoured batch scheduler through its CLI.
package slurm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/vietddude/calcwatch/internal/core/domain"
	"github.com/vietddude/calcwatch/internal/infra/scheduler"
)

// Config holds the scheduler CLI configuration.
type Config struct {
	User      string `yaml:"user"`       // poll listing is filtered by this user
	SubmitCmd string `yaml:"submit_cmd"` // default sbatch
	QueueCmd  string `yaml:"queue_cmd"`  // default squeue
	CancelCmd string `yaml:"cancel_cmd"` // default scancel

	// AckPrefix is the fixed literal preceding the job id in the submit
	// acknowledgment, e.g. "Submitted batch job 12345".
	AckPrefix string `yaml:"ack_prefix"`

	// Partition and Account are passed through to the submit command when set.
	Partition string `yaml:"partition"`
	Account   string `yaml:"account"`
}

func (c *Config) applyDefaults() {
	if c.SubmitCmd == "" {
		c.SubmitCmd = "sbatch"
	}
	if c.QueueCmd == "" {
		c.QueueCmd = "squeue"
	}
	if c.CancelCmd == "" {
		c.CancelCmd = "scancel"
	}
	if c.AckPrefix == "" {
		c.AckPrefix = "Submitted batch job "
	}
	if c.User == "" {
		c.User = os.Getenv("USER")
	}
}

// Runner executes a scheduler command and returns its combined output.
// Tests stub it; production uses ExecRunner.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Adapter implements scheduler.Adapter against the Slurm CLI.
type Adapter struct {
	cfg    Config
	runner Runner
	log    *slog.Logger
}

// NewAdapter creates a Slurm adapter. A nil runner gets ExecRunner.
func NewAdapter(cfg Config, runner Runner) *Adapter {
	cfg.applyDefaults()
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Adapter{cfg: cfg, runner: runner, log: slog.With("component", "slurm")}
}

// Submit stages the input artifact into the working directory and invokes
// the submit command. The job id is parsed from the acknowledgment via the
// fixed literal prefix.
func (a *Adapter) Submit(ctx context.Context, calc *domain.Calculation) (string, error) {
	if err := a.stageInput(calc); err != nil {
		return "", err
	}

	args := []string{}
	if a.cfg.Partition != "" {
		args = append(args, "--partition", a.cfg.Partition)
	}
	if a.cfg.Account != "" {
		args = append(args, "--account", a.cfg.Account)
	}
	args = append(args,
		"--job-name", fmt.Sprintf("%s_%s", calc.Type, calc.ID[:min(len(calc.ID), 8)]),
		"--time", fmt.Sprintf("%d", calc.Settings.WalltimeMin),
		"--mem", fmt.Sprintf("%dM", calc.Settings.MemoryMB),
		filepath.Base(calc.InputFile),
	)

	out, err := a.runner.Run(ctx, calc.WorkDir, a.cfg.SubmitCmd, args...)
	if err != nil {
		return "", fmt.Errorf("submit failed for %s: %w", calc.ID, err)
	}

	jobID, err := parseAck(out, a.cfg.AckPrefix)
	if err != nil {
		return "", fmt.Errorf("submit ack for %s: %w", calc.ID, err)
	}

	a.log.Info("submitted calculation", "calc_id", calc.ID, "job_id", jobID, "type", calc.Type)
	return jobID, nil
}

// parseAck extracts the job id that follows the literal ack prefix.
func parseAck(out, prefix string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		idx := strings.Index(line, prefix)
		if idx < 0 {
			continue
		}
		id := strings.TrimSpace(line[idx+len(prefix):])
		if fields := strings.Fields(id); len(fields) > 0 {
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("no job id in acknowledgment %q", strings.TrimSpace(out))
}

// stageInput copies the prepared input artifact into the working directory
// unless it already lives there.
func (a *Adapter) stageInput(calc *domain.Calculation) error {
	if calc.InputFile == "" {
		return fmt.Errorf("calculation %s has no input file", calc.ID)
	}
	if err := os.MkdirAll(calc.WorkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}

	dst := filepath.Join(calc.WorkDir, filepath.Base(calc.InputFile))
	if dst == calc.InputFile {
		return nil
	}

	src, err := os.Open(calc.InputFile)
	if err != nil {
		return fmt.Errorf("failed to open input artifact: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to stage input: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("failed to copy input: %w", err)
	}
	return nil
}

// Poll lists the user's jobs. Output format: one "JOBID STATE" pair per
// line (squeue -h -o "%i %T").
func (a *Adapter) Poll(ctx context.Context) (map[string]scheduler.JobState, error) {
	out, err := a.runner.Run(ctx, "", a.cfg.QueueCmd,
		"-u", a.cfg.User, "-h", "-o", "%i %T")
	if err != nil {
		return nil, fmt.Errorf("poll failed: %w", err)
	}

	states := make(map[string]scheduler.JobState)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		states[fields[0]] = mapState(fields[1])
	}
	return states, nil
}

// mapState translates Slurm state names onto the adapter vocabulary.
func mapState(s string) scheduler.JobState {
	switch strings.ToUpper(s) {
	case "PENDING", "CONFIGURING", "REQUEUED", "SUSPENDED":
		return scheduler.StateQueued
	case "RUNNING", "COMPLETING":
		return scheduler.StateRunning
	case "COMPLETED":
		return scheduler.StateCompleted
	case "FAILED", "NODE_FAIL", "OUT_OF_MEMORY", "BOOT_FAIL":
		return scheduler.StateFailed
	case "CANCELLED":
		return scheduler.StateCancelled
	case "TIMEOUT", "DEADLINE":
		return scheduler.StateTimeout
	}
	return scheduler.StateUnknown
}

// Cancel asks the scheduler to kill a job.
func (a *Adapter) Cancel(ctx context.Context, jobID string) error {
	if _, err := a.runner.Run(ctx, "", a.cfg.CancelCmd, jobID); err != nil {
		return fmt.Errorf("cancel failed for job %s: %w", jobID, err)
	}
	return nil
}
