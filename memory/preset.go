package memory

import (
	"fmt"
	"sort"
	"time"
)

// RetentionPolicy governs decay for one store instance. It is injected
// at construction; there is no process-global decay configuration.
type RetentionPolicy struct {
	// Enabled toggles decay entirely. When false entries never expire.
	Enabled bool

	// ShortTermTTL and LongTermTTL are the base horizons per memory type.
	ShortTermTTL time.Duration
	LongTermTTL  time.Duration

	// ImportanceRules maps "key=value" metadata matches to TTL
	// multipliers. The effective TTL is the base multiplied by the
	// product of every matched rule.
	ImportanceRules map[string]float64

	// CheckInterval is the sweeper cadence. Zero disables the sweeper.
	CheckInterval time.Duration

	// SweepBudget bounds the wall time of one sweep. Zero means 2s.
	SweepBudget time.Duration

	// AccessBoost extends a read entry's remaining TTL by this factor
	// (e.g. 0.5 adds half the base TTL). Zero disables boosting.
	AccessBoost float64

	// AccessBoostCap bounds the total extension past the base deadline.
	AccessBoostCap time.Duration
}

// TTL computes the effective time-to-live for an entry of the given type
// with the given metadata.
func (p RetentionPolicy) TTL(t Type, metadata map[string]string) time.Duration {
	base := p.ShortTermTTL
	if t == TypeLongTerm {
		base = p.LongTermTTL
	}
	mult := 1.0
	// Deterministic application order for reproducible deadlines.
	rules := make([]string, 0, len(p.ImportanceRules))
	for r := range p.ImportanceRules {
		rules = append(rules, r)
	}
	sort.Strings(rules)
	for _, r := range rules {
		k, v, ok := splitRule(r)
		if !ok {
			continue
		}
		if metadata[k] == v {
			mult *= p.ImportanceRules[r]
		}
	}
	return time.Duration(float64(base) * mult)
}

func splitRule(rule string) (key, value string, ok bool) {
	for i := 0; i < len(rule); i++ {
		if rule[i] == '=' {
			return rule[:i], rule[i+1:], true
		}
	}
	return "", "", false
}

// Preset is a named bundle of retention and search defaults. A preset
// resolves asymmetrically: ReadParams seeds a reader node's search,
// Retention holds the preset's retention horizons. The memory node's
// writes do not apply Retention; entries take the store's own policy.
type Preset struct {
	Name      string
	Retention RetentionPolicy

	// Read-side defaults.
	Limit               int
	SimilarityThreshold float64
	EnableHybrid        bool
	VectorWeight        float64
	TemporalWeight      float64
	ContextWeight       float64
	KeywordWeight       float64
	DecayHalfLife       time.Duration
}

// ReadParams resolves the preset for a read operation in a namespace.
func (p Preset) ReadParams(namespace string) SearchParams {
	return SearchParams{
		Namespace:           namespace,
		Limit:               p.Limit,
		SimilarityThreshold: p.SimilarityThreshold,
		Category:            CategoryStored,
		EnableHybrid:        p.EnableHybrid,
		VectorWeight:        p.VectorWeight,
		TemporalWeight:      p.TemporalWeight,
		ContextWeight:       p.ContextWeight,
		KeywordWeight:       p.KeywordWeight,
		DecayHalfLife:       p.DecayHalfLife,
	}
}

// presets is the builtin catalog, modeled on the classic memory
// hierarchy. Horizons and weights differ per cognitive role: sensory
// memory evaporates in minutes while semantic memory persists for
// months and leans almost entirely on vector similarity.
var presets = map[string]Preset{
	"sensory": {
		Name: "sensory",
		Retention: RetentionPolicy{
			Enabled:       true,
			ShortTermTTL:  15 * time.Minute,
			LongTermTTL:   time.Hour,
			CheckInterval: time.Minute,
		},
		Limit: 5, SimilarityThreshold: 0.5,
		EnableHybrid: true, VectorWeight: 0.3, TemporalWeight: 0.5, ContextWeight: 0.1, KeywordWeight: 0.1,
		DecayHalfLife: 10 * time.Minute,
	},
	"working": {
		Name: "working",
		Retention: RetentionPolicy{
			Enabled:       true,
			ShortTermTTL:  2 * time.Hour,
			LongTermTTL:   8 * time.Hour,
			CheckInterval: 5 * time.Minute,
			AccessBoost:   0.25,
		},
		Limit: 8, SimilarityThreshold: 0.6,
		EnableHybrid: true, VectorWeight: 0.4, TemporalWeight: 0.3, ContextWeight: 0.2, KeywordWeight: 0.1,
		DecayHalfLife: time.Hour,
	},
	"episodic": {
		Name: "episodic",
		Retention: RetentionPolicy{
			Enabled:       true,
			ShortTermTTL:  24 * time.Hour,
			LongTermTTL:   7 * 24 * time.Hour,
			CheckInterval: 30 * time.Minute,
			ImportanceRules: map[string]float64{
				"importance=high": 2.0,
				"importance=low":  0.5,
			},
			AccessBoost:    0.5,
			AccessBoostCap: 7 * 24 * time.Hour,
		},
		Limit: 10, SimilarityThreshold: 0.6,
		EnableHybrid: true, VectorWeight: 0.5, TemporalWeight: 0.2, ContextWeight: 0.2, KeywordWeight: 0.1,
		DecayHalfLife: 12 * time.Hour,
	},
	"semantic": {
		Name: "semantic",
		Retention: RetentionPolicy{
			Enabled:       true,
			ShortTermTTL:  7 * 24 * time.Hour,
			LongTermTTL:   90 * 24 * time.Hour,
			CheckInterval: 6 * time.Hour,
			ImportanceRules: map[string]float64{
				"category=verified_fact": 3.0,
			},
			AccessBoost:    0.5,
			AccessBoostCap: 90 * 24 * time.Hour,
		},
		Limit: 10, SimilarityThreshold: 0.65,
		EnableHybrid: true, VectorWeight: 0.7, TemporalWeight: 0.05, ContextWeight: 0.15, KeywordWeight: 0.1,
		DecayHalfLife: 30 * 24 * time.Hour,
	},
	"procedural": {
		Name: "procedural",
		Retention: RetentionPolicy{
			Enabled:       true,
			ShortTermTTL:  3 * 24 * time.Hour,
			LongTermTTL:   30 * 24 * time.Hour,
			CheckInterval: time.Hour,
			ImportanceRules: map[string]float64{
				"category=user_correction": 2.0,
			},
		},
		Limit: 6, SimilarityThreshold: 0.6,
		EnableHybrid: true, VectorWeight: 0.5, TemporalWeight: 0.1, ContextWeight: 0.2, KeywordWeight: 0.2,
		DecayHalfLife: 7 * 24 * time.Hour,
	},
	"meta": {
		Name: "meta",
		Retention: RetentionPolicy{
			Enabled:       true,
			ShortTermTTL:  12 * time.Hour,
			LongTermTTL:   14 * 24 * time.Hour,
			CheckInterval: time.Hour,
		},
		Limit: 5, SimilarityThreshold: 0.55,
		EnableHybrid: true, VectorWeight: 0.4, TemporalWeight: 0.2, ContextWeight: 0.3, KeywordWeight: 0.1,
		DecayHalfLife: 24 * time.Hour,
	},
}

// PresetByName resolves a builtin preset.
func PresetByName(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown memory preset %q", name)
	}
	return p, nil
}

// PresetNames lists the builtin presets, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
