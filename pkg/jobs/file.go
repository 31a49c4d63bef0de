// Package jobs loads job definitions and resolves each of them into a
// running source and its handlers.
package jobs

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/0xmhha/xchain-watcher/pkg/chain"
	"github.com/0xmhha/xchain-watcher/pkg/types"
)

// Defaults fill the fields a job definition leaves empty.
type Defaults struct {
	Interval     time.Duration
	MaxBatchSize uint64
	// FamilyBatch overrides MaxBatchSize per chain family
	FamilyBatch map[chain.Family]uint64
	// Family resolves a chain name to its family
	Family func(chainName string) (chain.Family, bool)
}

type jobsFile struct {
	Jobs []types.JobDefinition `yaml:"jobs"`
}

// LoadFile reads job definitions from a YAML file.
func LoadFile(path string, defaults Defaults) ([]types.JobDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, chain.Configuration(fmt.Errorf("failed to read jobs file %s: %w", path, err))
	}
	return Parse(data, defaults)
}

// Parse decodes a `jobs:` document, applies defaults and validates every
// definition. Job ids must be unique.
func Parse(data []byte, defaults Defaults) ([]types.JobDefinition, error) {
	var file jobsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, chain.Configuration(fmt.Errorf("failed to parse jobs: %w", err))
	}
	if len(file.Jobs) == 0 {
		return nil, chain.Configurationf("%w: no jobs defined", types.ErrInvalidJob)
	}

	seen := make(map[string]struct{}, len(file.Jobs))
	out := make([]types.JobDefinition, 0, len(file.Jobs))
	for _, def := range file.Jobs {
		job := types.NewJobDefinition(applyDefaults(def, defaults))
		if err := job.Validate(); err != nil {
			return nil, chain.Configuration(err)
		}
		if _, dup := seen[job.ID]; dup {
			return nil, chain.Configurationf("%w: duplicate job id %s", types.ErrInvalidJob, job.ID)
		}
		seen[job.ID] = struct{}{}
		out = append(out, job)
	}
	return out, nil
}

func applyDefaults(def types.JobDefinition, d Defaults) types.JobDefinition {
	if def.Interval == 0 {
		def.Interval = d.Interval
	}
	if def.MaxBatchSize == 0 {
		def.MaxBatchSize = d.MaxBatchSize
		if d.Family != nil {
			if family, ok := d.Family(def.Chain); ok {
				if batch, ok := d.FamilyBatch[family]; ok {
					def.MaxBatchSize = batch
				}
			}
		}
	}
	return def
}
