package loop

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/evalmesh/core"
)

// PredictionCollection is an ordered store of captured predictions tagged with
// the owning process's rank and world size. The tags are read-only; no
// cross-process synchronization happens here.
type PredictionCollection struct {
	runID     string
	rank      int
	worldSize int
	items     []any
}

// NewPredictionCollection creates an empty collection.
func NewPredictionCollection(runID string, rank, worldSize int) *PredictionCollection {
	return &PredictionCollection{runID: runID, rank: rank, worldSize: worldSize, items: []any{}}
}

// Add appends predictions in order. Empty input is ignored.
func (c *PredictionCollection) Add(predictions []any) {
	if len(predictions) == 0 {
		return
	}
	c.items = append(c.items, predictions...)
}

// Items returns a copy of the captured predictions.
func (c *PredictionCollection) Items() []any { return append([]any{}, c.items...) }

// Len returns the number of captured predictions.
func (c *PredictionCollection) Len() int { return len(c.items) }

// RunID returns the run this collection belongs to.
func (c *PredictionCollection) RunID() string { return c.runID }

// Rank returns the process rank tag.
func (c *PredictionCollection) Rank() int { return c.rank }

// WorldSize returns the world size tag.
func (c *PredictionCollection) WorldSize() int { return c.worldSize }

type predictionRecord struct {
	RunID       string `json:"run_id"`
	Rank        int    `json:"rank"`
	WorldSize   int    `json:"world_size"`
	Predictions []any  `json:"predictions"`
}

// ArtifactID returns the artifact id this collection is saved under.
func (c *PredictionCollection) ArtifactID() string {
	return fmt.Sprintf("predictions-rank-%05d.json", c.rank)
}

// Save writes the collection as JSON into namespace, one artifact per rank.
func (c *PredictionCollection) Save(store core.ArtifactStore, namespace string) error {
	data, err := json.Marshal(predictionRecord{
		RunID:       c.runID,
		Rank:        c.rank,
		WorldSize:   c.worldSize,
		Predictions: c.items,
	})
	if err != nil {
		return fmt.Errorf("failed to encode predictions: %w", err)
	}
	if err := store.Save(namespace, c.ArtifactID(), data); err != nil {
		return fmt.Errorf("failed to save predictions for rank %d: %w", c.rank, err)
	}
	return nil
}

// LoadPredictions reads every rank's collection saved in namespace and merges
// them into a single sequence ordered by rank.
//
// Collections are stored as JSON and decoded without type information, so the
// loaded values are the generic JSON forms of what was captured: numbers come
// back as float64, structs and maps as map[string]any, slices as []any. Callers
// needing the original types must convert the values themselves.
func LoadPredictions(store core.ArtifactStore, namespace string) ([]any, error) {
	ids, err := store.List(namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}

	var records []predictionRecord
	for _, id := range ids {
		if !strings.HasPrefix(id, "predictions-rank-") {
			continue
		}
		data, err := store.Get(namespace, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", id, err)
		}
		var rec predictionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", id, err)
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Rank < records[j].Rank })

	merged := []any{}
	for _, rec := range records {
		merged = append(merged, rec.Predictions...)
	}
	return merged, nil
}

// PredictionStore captures predictions from step outputs. It is active only in
// test mode.
type PredictionStore struct {
	active     bool
	collection *PredictionCollection
}

// NewPredictionStore returns an inactive store with an empty collection.
func NewPredictionStore() *PredictionStore {
	return &PredictionStore{collection: NewPredictionCollection("", 0, 1)}
}

// Reset replaces the collection and (de)activates capture for the mode.
func (p *PredictionStore) Reset(runID string, rank, worldSize int, mode core.RunMode) {
	p.active = mode == core.ModeTest
	p.collection = NewPredictionCollection(runID, rank, worldSize)
}

// Store moves the output's predictions into the collection. Nil outputs and
// validation mode are no-ops.
func (p *PredictionStore) Store(output *core.StepOutput) {
	if !p.active || output == nil {
		return
	}
	p.collection.Add(output.PopPredictions())
}

// Collection returns the current collection.
func (p *PredictionStore) Collection() *PredictionCollection { return p.collection }
