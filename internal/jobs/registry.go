// -----------------------------------------------------------------------
// Job Registry - Cluster-wide append-only list of job keys
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gero/internal/interfaces"
)

// ListKey is the well-known store key holding the global job list.
// An absent key reads as an empty list.
const ListKey = "gero/jobs"

// jobList is the stored representation of the registry
type jobList struct {
	Jobs []string `json:"jobs"`
}

// Registry is the single cluster-wide list of job keys. Growth is the
// only supported mutation; ids are never removed, callers treat missing
// records as absent.
type Registry struct {
	store  interfaces.KeyValueStore
	logger arbor.ILogger
}

// NewRegistry creates a registry over the given store
func NewRegistry(store interfaces.KeyValueStore, logger arbor.ILogger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
	}
}

// Append adds a job id to the global list. Safe under concurrent appends
// from other nodes; every appended id eventually appears exactly once.
func (r *Registry) Append(ctx context.Context, jobID string) error {
	err := UpdateJSON(ctx, r.store, ListKey, func(old *jobList) (*jobList, error) {
		if old == nil {
			old = &jobList{}
		}
		old.Jobs = append(old.Jobs, jobID)
		return old, nil
	})
	if err != nil {
		return fmt.Errorf("failed to append job %s to registry: %w", jobID, err)
	}
	return nil
}

// IDs returns the raw id list in registry order
func (r *Registry) IDs(ctx context.Context) ([]string, error) {
	current, err := r.store.Get(ctx, ListKey)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job registry: %w", err)
	}

	var list jobList
	if err := unmarshalList(current.Data, &list); err != nil {
		return nil, err
	}
	return list.Jobs, nil
}

// All resolves every registered id to its stored record, in list order.
// Ids whose record is missing (garbage-collected or never committed) are
// silently dropped.
func (r *Registry) All(ctx context.Context) ([]*Job, error) {
	ids, err := r.IDs(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := r.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, job)
	}
	return records, nil
}

// Get reads a single job record directly by its key.
// Returns ErrJobNotFound when the record does not exist.
func (r *Registry) Get(ctx context.Context, jobID string) (*Job, error) {
	current, err := r.store.Get(ctx, jobID)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}
	return JobFromJSON(current.Data)
}

// FindByID returns the first registered job with the given id, or
// ErrJobNotFound
func (r *Registry) FindByID(ctx context.Context, jobID string) (*Job, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, job := range all {
		if job.ID == jobID {
			return job, nil
		}
	}
	return nil, ErrJobNotFound
}

// FindByDestination returns the first registered job writing to the given
// destination key, or ErrJobNotFound. Multiple jobs share a destination
// only transiently; the first match in registry order is authoritative.
func (r *Registry) FindByDestination(ctx context.Context, destination string) (*Job, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, job := range all {
		if job.Destination == destination {
			return job, nil
		}
	}
	return nil, ErrJobNotFound
}

func unmarshalList(data []byte, list *jobList) error {
	if err := json.Unmarshal(data, list); err != nil {
		return fmt.Errorf("failed to unmarshal job registry: %w", err)
	}
	return nil
}
