package scheduler

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/texasrangers4/act-triggers/internal/domain"
)

// fileSchedule is the on-disk form of a scheduled trigger.
type fileSchedule struct {
	Name         string            `yaml:"name"`
	Cron         string            `yaml:"cron"`
	Timezone     string            `yaml:"timezone"`
	Service      string            `yaml:"service"`
	Event        string            `yaml:"event"`
	Organization string            `yaml:"organization"`
	AccessMode   string            `yaml:"access_mode"`
	Context      map[string]string `yaml:"context"`
}

type fileDocument struct {
	Schedules []fileSchedule `yaml:"schedules"`
}

// LoadFile reads scheduled triggers from a YAML file of the form
//
//	schedules:
//	  - name: nightly-report
//	    cron: "0 2 * * *"
//	    timezone: Europe/Paris
//	    service: reporting
//	    event: report.due
//	    organization: 0b7c8a52-6e1d-4f7a-9d3e-2c4b5a6f7e81
//	    access_mode: RoleBased
func LoadFile(path string) ([]domain.ScheduledTrigger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedules: %w", err)
	}
	return Parse(data)
}

// Parse decodes and checks a schedules document. Cron expressions are
// checked by the scheduler when they are first evaluated.
func Parse(data []byte) ([]domain.ScheduledTrigger, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode schedules: %w", err)
	}

	out := make([]domain.ScheduledTrigger, 0, len(doc.Schedules))
	seen := make(map[string]bool, len(doc.Schedules))
	for i, fs := range doc.Schedules {
		if fs.Name == "" {
			return nil, fmt.Errorf("schedule %d: name is required", i)
		}
		if seen[fs.Name] {
			return nil, fmt.Errorf("schedule %q: duplicate name", fs.Name)
		}
		seen[fs.Name] = true

		if fs.Cron == "" {
			return nil, fmt.Errorf("schedule %q: cron is required", fs.Name)
		}
		org, err := uuid.Parse(fs.Organization)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: organization: %w", fs.Name, err)
		}
		mode := domain.AccessMode(fs.AccessMode)
		if mode == "" {
			mode = domain.AccessModePublic
		}
		if !mode.Valid() {
			return nil, fmt.Errorf("schedule %q: unknown access_mode %q", fs.Name, fs.AccessMode)
		}

		out = append(out, domain.ScheduledTrigger{
			Name:           fs.Name,
			CronExpression: fs.Cron,
			Timezone:       fs.Timezone,
			Service:        fs.Service,
			Event:          fs.Event,
			Organization:   org,
			AccessMode:     mode,
			Context:        fs.Context,
		})
	}
	return out, nil
}

// StaticSource serves a fixed list of schedules.
type StaticSource []domain.ScheduledTrigger

func (s StaticSource) Schedules(ctx context.Context) ([]domain.ScheduledTrigger, error) {
	return s, nil
}
