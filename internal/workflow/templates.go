package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vietddude/calcwatch/internal/core/domain"
	"github.com/vietddude/calcwatch/internal/infra/storage"
)

// StandardElectronic is the built-in template: relax the structure, run a
// single point on the relaxed geometry, then fan out into band structure
// and density of states.
const StandardElectronic = "standard_electronic"

func builtinTemplates() []*domain.WorkflowTemplate {
	return []*domain.WorkflowTemplate{
		{
			ID:   uuid.New().String(),
			Name: StandardElectronic,
			Steps: []domain.TemplateStep{
				{Kind: domain.CalcTypeRelaxation},
				{Kind: domain.CalcTypeSinglePoint, Requires: domain.CalcTypeRelaxation},
				{Kind: domain.CalcTypeBandStructure, Requires: domain.CalcTypeSinglePoint},
				{Kind: domain.CalcTypeDOS, Requires: domain.CalcTypeSinglePoint},
			},
		},
		{
			ID:   uuid.New().String(),
			Name: "transport_screen",
			Steps: []domain.TemplateStep{
				{Kind: domain.CalcTypeRelaxation},
				{Kind: domain.CalcTypeSinglePoint, Requires: domain.CalcTypeRelaxation},
				{Kind: domain.CalcTypeTransport, Requires: domain.CalcTypeSinglePoint},
			},
		},
	}
}

// EnsureTemplates registers the built-in templates that aren't in the
// store yet. Existing templates are left untouched so site edits survive.
func EnsureTemplates(ctx context.Context, repo storage.WorkflowRepository) error {
	for _, t := range builtinTemplates() {
		_, err := repo.GetTemplateByName(ctx, t.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to check template %s: %w", t.Name, err)
		}
		if err := repo.SaveTemplate(ctx, t); err != nil {
			return fmt.Errorf("failed to register template %s: %w", t.Name, err)
		}
	}
	return nil
}
