// Package pack loads curated heuristic packs from YAML files and keeps
// the store in sync as pack files change on disk.
package pack

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
)

// packNamespace seeds deterministic heuristic IDs, so reloading a pack
// updates existing heuristics instead of duplicating them.
var packNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("reflexd/pack"))

// File is the on-disk pack format.
type File struct {
	// Name identifies the pack. Required.
	Name string `yaml:"name"`

	// Heuristics are the pack's entries.
	Heuristics []Entry `yaml:"heuristics"`
}

// Entry is one packaged heuristic.
type Entry struct {
	// Condition is the natural-language trigger. Required.
	Condition string `yaml:"condition"`

	// SuggestedAction is the response when the heuristic fires. Required.
	SuggestedAction string `yaml:"suggested_action"`

	// Source scopes the heuristic to an event source. Required.
	Source string `yaml:"source"`

	// SimilarityThreshold gates embedding matches. Defaults to 0.7.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// PriorConfidence seeds the initial confidence. Defaults to 0.5.
	PriorConfidence float64 `yaml:"prior_confidence"`

	// PriorWeight is how many pseudo-observations back the prior.
	// Defaults to 2 (weak prior, quickly overridden by real feedback).
	PriorWeight float64 `yaml:"prior_weight"`
}

// Parse reads and validates a pack file.
func Parse(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pack file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing pack file %s: %w", path, err)
	}
	if f.Name == "" {
		return nil, fmt.Errorf("pack file %s: name is required", path)
	}
	for i, e := range f.Heuristics {
		if e.Condition == "" {
			return nil, fmt.Errorf("pack %s: heuristic %d: condition is required", f.Name, i)
		}
		if e.SuggestedAction == "" {
			return nil, fmt.Errorf("pack %s: heuristic %d: suggested_action is required", f.Name, i)
		}
		if e.Source == "" {
			return nil, fmt.Errorf("pack %s: heuristic %d: source is required", f.Name, i)
		}
		if e.PriorConfidence < 0 || e.PriorConfidence > 1 {
			return nil, fmt.Errorf("pack %s: heuristic %d: prior_confidence must be in [0, 1]", f.Name, i)
		}
	}
	return &f, nil
}

// ID returns the deterministic heuristic ID for an entry of a pack.
func ID(packName, condition string) string {
	return uuid.NewSHA1(packNamespace, []byte(packName+"\x00"+condition)).String()
}

// Heuristic converts a pack entry into a heuristic with its prior
// translated to pseudo-counts.
func (e Entry) Heuristic(packName string) (*heuristic.Heuristic, error) {
	threshold := e.SimilarityThreshold
	if threshold == 0 {
		threshold = 0.7
	}
	h, err := heuristic.New(e.Condition, e.SuggestedAction, e.Source, heuristic.OriginPack, threshold)
	if err != nil {
		return nil, err
	}
	h.ID = ID(packName, e.Condition)

	conf := e.PriorConfidence
	if conf == 0 {
		conf = 0.5
	}
	conf = heuristic.ClampConfidence(conf)
	weight := e.PriorWeight
	if weight <= 0 {
		weight = 2
	}
	h.Alpha = conf * weight
	h.Beta = (1 - conf) * weight
	return h, nil
}
