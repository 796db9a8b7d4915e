package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/calcwatch/internal/core/domain"
	"github.com/vietddude/calcwatch/internal/infra/storage"
)

// MemoryStorage is the in-memory twin of the PostgreSQL store, used by
// tests and by no-database mode. It enforces the same transition and
// prerequisite invariants as the SQL repositories.
type MemoryStorage struct {
	mu        sync.Mutex
	materials map[string]*domain.Material
	calcs     map[string]*domain.Calculation
	props     []*domain.Property
	files     []*domain.FileRecord
	templates map[string]*domain.WorkflowTemplate
	instances map[string]*domain.WorkflowInstance
	nextID    int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		materials: make(map[string]*domain.Material),
		calcs:     make(map[string]*domain.Calculation),
		templates: make(map[string]*domain.WorkflowTemplate),
		instances: make(map[string]*domain.WorkflowInstance),
	}
}

// NewStore wires all in-memory repositories against one MemoryStorage.
func NewStore(s *MemoryStorage) *storage.Store {
	return &storage.Store{
		Materials:    &MaterialRepo{store: s},
		Calculations: &CalcRepo{store: s},
		Properties:   &PropertyRepo{store: s},
		Files:        &FileRepo{store: s},
		Workflows:    &WorkflowRepo{store: s},
	}
}

// -----------------------------------------------------------------------------
// Material Repository
// -----------------------------------------------------------------------------

type MaterialRepo struct {
	store *MemoryStorage
}

func (r *MaterialRepo) Create(ctx context.Context, m *domain.Material) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *m
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	if cp.Status == "" {
		cp.Status = domain.MaterialStatusActive
	}
	r.store.materials[m.ID] = &cp
	return nil
}

func (r *MaterialRepo) Get(ctx context.Context, id string) (*domain.Material, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	m, ok := r.store.materials[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *MaterialRepo) Update(ctx context.Context, m *domain.Material) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	old, ok := r.store.materials[m.ID]
	if !ok {
		return storage.ErrNotFound
	}
	cp := *m
	cp.CreatedAt = old.CreatedAt
	cp.UpdatedAt = time.Now()
	r.store.materials[m.ID] = &cp
	return nil
}

func (r *MaterialRepo) Archive(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	m, ok := r.store.materials[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.Status = domain.MaterialStatusArchived
	m.UpdatedAt = time.Now()
	return nil
}

func (r *MaterialRepo) List(ctx context.Context, status domain.MaterialStatus) ([]*domain.Material, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*domain.Material
	for _, m := range r.store.materials {
		if m.Status == status {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// -----------------------------------------------------------------------------
// Calculation Repository
// -----------------------------------------------------------------------------

type CalcRepo struct {
	store *MemoryStorage
}

func (r *CalcRepo) Create(ctx context.Context, c *domain.Calculation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *c
	cp.CreatedAt = time.Now()
	if cp.Status == "" {
		cp.Status = domain.CalcStatusPending
	}
	if cp.CompletionType == "" {
		cp.CompletionType = domain.CompletionNormal
	}
	r.store.calcs[c.ID] = &cp
	return nil
}

func (r *CalcRepo) Get(ctx context.Context, id string) (*domain.Calculation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.calcs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CalcRepo) UpdateStatus(ctx context.Context, id string, status domain.CalcStatus, upd storage.StatusUpdate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	c, ok := r.store.calcs[id]
	if !ok {
		return storage.ErrNotFound
	}
	if !domain.CanTransition(c.Status, status) {
		return &storage.ErrInvalidTransition{From: c.Status, To: status}
	}
	if status == domain.CalcStatusSubmitted && c.PrerequisiteID != "" {
		prereq, ok := r.store.calcs[c.PrerequisiteID]
		if !ok || prereq.Status != domain.CalcStatusCompleted {
			return storage.ErrPrerequisiteIncomplete
		}
	}

	now := time.Now()
	c.Status = status
	switch status {
	case domain.CalcStatusSubmitted:
		c.SubmittedAt = &now
	case domain.CalcStatusRunning:
		c.StartedAt = &now
	case domain.CalcStatusCompleted, domain.CalcStatusFailed, domain.CalcStatusCancelled:
		c.CompletedAt = &now
	case domain.CalcStatusResubmitted:
		// The prior attempt's run timestamps would read newer-attempt
		// submitted_at > older completed_at; clear them so the lifecycle
		// stays monotonic across attempts.
		c.StartedAt = nil
		c.CompletedAt = nil
	}
	if upd.JobID != "" {
		c.JobID = upd.JobID
	}
	if upd.ExitCode != nil {
		code := *upd.ExitCode
		c.ExitCode = &code
	}
	if upd.FailureKind != "" {
		c.FailureKind = upd.FailureKind
	}
	if upd.ErrorMessage != "" {
		c.ErrorMessage = upd.ErrorMessage
	}
	return nil
}

func (r *CalcRepo) MarkRecoveryAttempt(ctx context.Context, id string, settings domain.CalcSettings, ceiling int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	c, ok := r.store.calcs[id]
	if !ok {
		return storage.ErrNotFound
	}
	if c.RecoveryAttempts >= ceiling {
		return storage.ErrRecoveryCeiling
	}
	c.Settings = settings
	c.RecoveryAttempts++
	c.CompletionType = domain.CompletionRecovery
	return nil
}

func (r *CalcRepo) filter(match func(*domain.Calculation) bool) []*domain.Calculation {
	var out []*domain.Calculation
	for _, c := range r.store.calcs {
		if match(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *CalcRepo) GetByStatus(ctx context.Context, status domain.CalcStatus) ([]*domain.Calculation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.filter(func(c *domain.Calculation) bool { return c.Status == status }), nil
}

func (r *CalcRepo) GetByType(ctx context.Context, t domain.CalcType) ([]*domain.Calculation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.filter(func(c *domain.Calculation) bool { return c.Type == t }), nil
}

func (r *CalcRepo) GetByMaterial(ctx context.Context, materialID string) ([]*domain.Calculation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.filter(func(c *domain.Calculation) bool { return c.MaterialID == materialID }), nil
}

func (r *CalcRepo) GetActive(ctx context.Context) ([]*domain.Calculation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.filter(func(c *domain.Calculation) bool { return c.Active() }), nil
}

func (r *CalcRepo) GetByJobID(ctx context.Context, jobID string) (*domain.Calculation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	matches := r.filter(func(c *domain.Calculation) bool { return c.JobID == jobID })
	if len(matches) == 0 {
		return nil, storage.ErrNotFound
	}
	return matches[0], nil
}

// -----------------------------------------------------------------------------
// Property Repository
// -----------------------------------------------------------------------------

type PropertyRepo struct {
	store *MemoryStorage
}

func (r *PropertyRepo) Add(ctx context.Context, p *domain.Property) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.nextID++
	cp := *p
	cp.ID = r.store.nextID
	cp.CreatedAt = time.Now()
	r.store.props = append(r.store.props, &cp)
	p.ID = cp.ID
	return nil
}

func (r *PropertyRepo) GetByMaterial(ctx context.Context, materialID string) ([]*domain.Property, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*domain.Property
	for _, p := range r.store.props {
		if p.MaterialID == materialID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// -----------------------------------------------------------------------------
// File Repository
// -----------------------------------------------------------------------------

type FileRepo struct {
	store *MemoryStorage
}

func (r *FileRepo) Add(ctx context.Context, f *domain.FileRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.nextID++
	cp := *f
	cp.ID = r.store.nextID
	cp.CreatedAt = time.Now()
	r.store.files = append(r.store.files, &cp)
	f.ID = cp.ID
	return nil
}

func (r *FileRepo) GetByCalculation(ctx context.Context, calcID string) ([]*domain.FileRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*domain.FileRecord
	for _, f := range r.store.files {
		if f.CalcID == calcID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// -----------------------------------------------------------------------------
// Workflow Repository
// -----------------------------------------------------------------------------

type WorkflowRepo struct {
	store *MemoryStorage
}

func (r *WorkflowRepo) SaveTemplate(ctx context.Context, t *domain.WorkflowTemplate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.store.templates[t.ID] = &cp
	return nil
}

func (r *WorkflowRepo) GetTemplate(ctx context.Context, id string) (*domain.WorkflowTemplate, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.templates[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *WorkflowRepo) GetTemplateByName(ctx context.Context, name string) (*domain.WorkflowTemplate, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, t := range r.store.templates {
		if t.Name == name {
			cp := *t
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *WorkflowRepo) CreateInstance(ctx context.Context, inst *domain.WorkflowInstance) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *inst
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	if cp.Status == "" {
		cp.Status = domain.WorkflowStatusActive
	}
	r.store.instances[inst.ID] = &cp
	return nil
}

func (r *WorkflowRepo) GetInstance(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	inst, ok := r.store.instances[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (r *WorkflowRepo) GetActiveInstance(ctx context.Context, materialID string) (*domain.WorkflowInstance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var latest *domain.WorkflowInstance
	for _, inst := range r.store.instances {
		if inst.MaterialID != materialID || inst.Status != domain.WorkflowStatusActive {
			continue
		}
		if latest == nil || inst.CreatedAt.After(latest.CreatedAt) {
			latest = inst
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *WorkflowRepo) UpdateInstanceStatus(ctx context.Context, id string, status domain.WorkflowStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	inst, ok := r.store.instances[id]
	if !ok {
		return storage.ErrNotFound
	}
	inst.Status = status
	inst.UpdatedAt = time.Now()
	return nil
}

func (r *WorkflowRepo) AdvanceInstance(ctx context.Context, id string, step int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	inst, ok := r.store.instances[id]
	if !ok {
		return storage.ErrNotFound
	}
	inst.CurrentStep = step
	inst.UpdatedAt = time.Now()
	return nil
}
