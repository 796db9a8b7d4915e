package slurm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/vietddude/calcwatch/internal/core/domain"
	"github.com/vietddude/calcwatch/internal/infra/scheduler"
)

// stubRunner replays canned command output.
type stubRunner struct {
	out  string
	err  error
	cmd  string
	args []string
	dir  string
}

func (r *stubRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	r.dir = dir
	r.cmd = name
	r.args = args
	return r.out, r.err
}

func testCalc(t *testing.T) *domain.Calculation {
	t.Helper()
	workDir := t.TempDir()
	inputDir := t.TempDir()
	input := filepath.Join(inputDir, "relax.in")
	if err := os.WriteFile(input, []byte("LATTICE\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &domain.Calculation{
		ID:        "0f3a9b21-0000-0000-0000-000000000000",
		Type:      domain.CalcTypeRelaxation,
		InputFile: input,
		WorkDir:   workDir,
		Settings:  domain.DefaultSettings(domain.CalcTypeRelaxation),
	}
}

func TestSubmitParsesAck(t *testing.T) {
	runner := &stubRunner{out: "Submitted batch job 48291\n"}
	a := NewAdapter(Config{User: "hpc"}, runner)

	calc := testCalc(t)
	jobID, err := a.Submit(context.Background(), calc)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if jobID != "48291" {
		t.Errorf("Expected job id 48291, got %q", jobID)
	}
	if runner.cmd != "sbatch" {
		t.Errorf("Expected sbatch, got %s", runner.cmd)
	}
	if runner.dir != calc.WorkDir {
		t.Errorf("Submit must run in the work dir, got %q", runner.dir)
	}

	// The input artifact was staged into the work dir.
	if _, err := os.Stat(filepath.Join(calc.WorkDir, "relax.in")); err != nil {
		t.Errorf("Input not staged: %v", err)
	}
}

func TestSubmitShortCalcID(t *testing.T) {
	runner := &stubRunner{out: "Submitted batch job 99\n"}
	a := NewAdapter(Config{User: "hpc"}, runner)

	calc := testCalc(t)
	calc.ID = "c7"
	jobID, err := a.Submit(context.Background(), calc)
	if err != nil {
		t.Fatalf("Submit failed for short id: %v", err)
	}
	if jobID != "99" {
		t.Errorf("Expected job id 99, got %q", jobID)
	}

	gotName := false
	for i, arg := range runner.args {
		if arg == "--job-name" && i+1 < len(runner.args) && runner.args[i+1] == "relaxation_c7" {
			gotName = true
		}
	}
	if !gotName {
		t.Errorf("Expected job name relaxation_c7, got %v", runner.args)
	}
}

func TestSubmitRejectsMissingAck(t *testing.T) {
	runner := &stubRunner{out: "sbatch: error: invalid partition\n"}
	a := NewAdapter(Config{User: "hpc"}, runner)

	if _, err := a.Submit(context.Background(), testCalc(t)); err == nil {
		t.Fatal("Expected error when acknowledgment is missing")
	}
}

func TestSubmitCustomAckPrefix(t *testing.T) {
	runner := &stubRunner{out: "job accepted: 77\n"}
	a := NewAdapter(Config{User: "hpc", AckPrefix: "job accepted: "}, runner)

	jobID, err := a.Submit(context.Background(), testCalc(t))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if jobID != "77" {
		t.Errorf("Expected job id 77, got %q", jobID)
	}
}

func TestPollParsesListing(t *testing.T) {
	runner := &stubRunner{out: "101 RUNNING\n102 PENDING\n103 COMPLETED\n104 TIMEOUT\n\n"}
	a := NewAdapter(Config{User: "hpc"}, runner)

	states, err := a.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	expected := map[string]scheduler.JobState{
		"101": scheduler.StateRunning,
		"102": scheduler.StateQueued,
		"103": scheduler.StateCompleted,
		"104": scheduler.StateTimeout,
	}
	if len(states) != len(expected) {
		t.Fatalf("Expected %d jobs, got %d", len(expected), len(states))
	}
	for id, want := range expected {
		if states[id] != want {
			t.Errorf("Job %s: expected %s, got %s", id, want, states[id])
		}
	}

	// Listing is filtered to the configured user.
	gotUser := false
	for i, arg := range runner.args {
		if arg == "-u" && i+1 < len(runner.args) && runner.args[i+1] == "hpc" {
			gotUser = true
		}
	}
	if !gotUser {
		t.Errorf("Expected -u hpc in args, got %v", runner.args)
	}
}

func TestMapState(t *testing.T) {
	cases := map[string]scheduler.JobState{
		"PENDING":       scheduler.StateQueued,
		"CONFIGURING":   scheduler.StateQueued,
		"RUNNING":       scheduler.StateRunning,
		"COMPLETING":    scheduler.StateRunning,
		"COMPLETED":     scheduler.StateCompleted,
		"FAILED":        scheduler.StateFailed,
		"OUT_OF_MEMORY": scheduler.StateFailed,
		"CANCELLED":     scheduler.StateCancelled,
		"TIMEOUT":       scheduler.StateTimeout,
		"REVOKED":       scheduler.StateUnknown,
	}
	for in, want := range cases {
		if got := mapState(in); got != want {
			t.Errorf("mapState(%s): expected %s, got %s", in, want, got)
		}
	}
}

func TestCancel(t *testing.T) {
	runner := &stubRunner{}
	a := NewAdapter(Config{User: "hpc"}, runner)

	if err := a.Cancel(context.Background(), "48291"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if runner.cmd != "scancel" || len(runner.args) != 1 || runner.args[0] != "48291" {
		t.Errorf("Expected scancel 48291, got %s %v", runner.cmd, runner.args)
	}
}
