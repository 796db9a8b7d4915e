// Package inputs delegates input-artifact preparation to the external
// generator. The input grammar itself lives outside this system; only
// paths cross the boundary.
package inputs

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/vietddude/calcwatch/internal/core/domain"
)

// Generator prepares input artifacts for calculations.
type Generator interface {
	// Generate writes a fresh input file for a calculation of the given
	// kind into workDir, optionally seeded from a completed upstream
	// output, and returns its path.
	Generate(ctx context.Context, material *domain.Material, kind domain.CalcType,
		settings domain.CalcSettings, fromOutput string, workDir string) (string, error)

	// Rewrite regenerates an existing calculation's input in place after
	// its settings were mutated by recovery.
	Rewrite(ctx context.Context, calc *domain.Calculation) error
}

// Config holds the external generator command.
type Config struct {
	Command string `yaml:"command"` // e.g. "calcgen"
}

// CommandGenerator shells out to the external generator binary. Protocol:
// the settings blob goes in on stdin as JSON, the target path comes back
// on stdout.
type CommandGenerator struct {
	cfg Config
}

func NewCommandGenerator(cfg Config) *CommandGenerator {
	return &CommandGenerator{cfg: cfg}
}

type generateRequest struct {
	MaterialID string              `json:"material_id"`
	Formula    string              `json:"formula"`
	Kind       string              `json:"kind"`
	Settings   domain.CalcSettings `json:"settings"`
	FromOutput string              `json:"from_output,omitempty"`
	WorkDir    string              `json:"work_dir"`
	Target     string              `json:"target,omitempty"` // set for in-place rewrite
}

func (g *CommandGenerator) run(ctx context.Context, req generateRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode generator request: %w", err)
	}

	cmd := exec.CommandContext(ctx, g.cfg.Command)
	cmd.Stdin = strings.NewReader(string(payload))
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("generator failed: %w", err)
	}

	path := strings.TrimSpace(string(out))
	if path == "" {
		return "", fmt.Errorf("generator returned no path")
	}
	return path, nil
}

func (g *CommandGenerator) Generate(ctx context.Context, material *domain.Material, kind domain.CalcType,
	settings domain.CalcSettings, fromOutput string, workDir string) (string, error) {
	return g.run(ctx, generateRequest{
		MaterialID: material.ID,
		Formula:    material.Formula,
		Kind:       string(kind),
		Settings:   settings,
		FromOutput: fromOutput,
		WorkDir:    workDir,
	})
}

func (g *CommandGenerator) Rewrite(ctx context.Context, calc *domain.Calculation) error {
	target := calc.InputFile
	if target == "" {
		target = filepath.Join(calc.WorkDir, string(calc.Type)+".in")
	}
	_, err := g.run(ctx, generateRequest{
		MaterialID: calc.MaterialID,
		Kind:       string(calc.Type),
		Settings:   calc.Settings,
		WorkDir:    calc.WorkDir,
		Target:     target,
	})
	return err
}
