package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "watchtower/pkg/errors"
)

// MemoryRepository is an in-process catalog for the CLI and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	rules    map[string]*Rule
	datasets map[string]*Dataset
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rules:    make(map[string]*Rule),
		datasets: make(map[string]*Dataset),
		now:      time.Now,
	}
}

func (r *MemoryRepository) GetRule(_ context.Context, id string) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, ruleNotFound(id)
	}
	cp := *rule
	return &cp, nil
}

func (r *MemoryRepository) GetDataset(_ context.Context, id string) (*Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ds, ok := r.datasets[id]
	if !ok {
		return nil, datasetNotFound(id)
	}
	cp := *ds
	return &cp, nil
}

func (r *MemoryRepository) GetDatasetByName(_ context.Context, name string) (*Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ds := range r.datasets {
		if ds.Name == name {
			cp := *ds
			return &cp, nil
		}
	}
	return nil, datasetNotFound(name)
}

func (r *MemoryRepository) ListActiveRules(_ context.Context, datasetID string) ([]*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rules []*Rule
	for _, rule := range r.rules {
		if rule.DatasetID == datasetID && rule.Active {
			cp := *rule
			rules = append(rules, &cp)
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
	return rules, nil
}

func (r *MemoryRepository) CreateDataset(_ context.Context, ds *Dataset) error {
	if err := ValidateDataset(ds); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.datasets {
		if existing.Name == ds.Name {
			return pkgerrors.ErrConflict.WithDetail("message", fmt.Sprintf("dataset with name '%s' already exists", ds.Name))
		}
	}
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	now := r.now().UTC()
	ds.CreatedAt, ds.UpdatedAt = now, now

	cp := *ds
	r.datasets[ds.ID] = &cp
	return nil
}

func (r *MemoryRepository) CreateRule(_ context.Context, rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.datasets[rule.DatasetID]; !ok {
		return datasetNotFound(rule.DatasetID)
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if _, dup := r.rules[rule.ID]; dup {
		return pkgerrors.ErrConflict.WithDetail("message", fmt.Sprintf("rule with id '%s' already exists", rule.ID))
	}
	now := r.now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now

	cp := *rule
	r.rules[rule.ID] = &cp
	return nil
}

func (r *MemoryRepository) SetRuleActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[id]
	if !ok {
		return ruleNotFound(id)
	}
	rule.Active = active
	rule.UpdatedAt = r.now().UTC()
	return nil
}
