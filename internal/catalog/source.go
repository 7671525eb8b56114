package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticSource serves a fixed plan map. Useful for tests and for
// deployments that compile their catalog in.
type StaticSource map[string]Plan

func (s StaticSource) Load(_ context.Context) (map[string]Plan, error) {
	return s, nil
}

// FileSource loads plans from a YAML file of the form:
//
//	plans:
//	  - id: price_starter_monthly
//	    name: Starter
//	    price: "9.99"
//	    duration_months: 1
//	    tier: 1
//	    active: true
type FileSource struct {
	Path string
}

func (s FileSource) Load(_ context.Context) (map[string]Plan, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file %s: %w", s.Path, err)
	}

	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", s.Path, err)
	}

	plans := make(map[string]Plan, len(doc.Plans))
	for _, plan := range doc.Plans {
		if _, exists := plans[plan.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate plan ID %s", ErrInvalidPlanConfiguration, plan.ID)
		}
		plans[plan.ID] = plan
	}
	return plans, nil
}
