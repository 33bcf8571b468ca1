// File path: internal/analytics/seed.go
package analytics

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/meridianhq/opql/internal/common"
)

// SeedFile is the YAML shape for bootstrapping analytics configuration.
type SeedFile struct {
	Reports    []ReportDefinition    `yaml:"reports"`
	Dashboards []DashboardDefinition `yaml:"dashboards"`
	Schedules  []ScheduledReport     `yaml:"schedules"`
}

// LoadSeed parses a YAML seed file.
func LoadSeed(path string) (*SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// ApplySeed stores every definition in the file. A bad record aborts so a
// typo in the seed is noticed at startup, not at first use.
func (e *Engine) ApplySeed(ctx context.Context, seed *SeedFile) error {
	if seed == nil {
		return nil
	}
	logger := common.Logger()
	for _, report := range seed.Reports {
		if err := e.PutReport(ctx, report); err != nil {
			return fmt.Errorf("seed report %s: %w", report.ID, err)
		}
	}
	for _, dashboard := range seed.Dashboards {
		if err := e.PutDashboard(ctx, dashboard); err != nil {
			return fmt.Errorf("seed dashboard %s: %w", dashboard.ID, err)
		}
	}
	for _, schedule := range seed.Schedules {
		if _, err := e.schedules.Put(ctx, schedule); err != nil {
			return fmt.Errorf("seed schedule %s: %w", schedule.ID, err)
		}
	}
	logger.Info("analytics: seed applied",
		"reports", len(seed.Reports),
		"dashboards", len(seed.Dashboards),
		"schedules", len(seed.Schedules))
	return nil
}

// Schedules exposes the schedule store for API wiring.
func (e *Engine) Schedules() *ScheduleStore {
	return e.schedules
}
