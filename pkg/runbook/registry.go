package runbook

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/opsgate/opsgate/pkg/models"
)

var (
	// ErrRunbookNotFound is returned when no runbook matches an id/version.
	ErrRunbookNotFound = errors.New("runbook not found")

	// ErrVersionExists is returned when a (id, version) pair is re-registered.
	// Runbooks are immutable once loaded; a change requires a new version.
	ErrVersionExists = errors.New("runbook version already registered")
)

// Registry is the in-memory versioned runbook store. Reads take a shared
// lock; Register holds the exclusive lock.
type Registry struct {
	mu    sync.RWMutex
	byKey map[models.Key]*models.Runbook

	// versions holds the known versions per id, unordered.
	versions map[string][]string
}

// NewRegistry creates an empty runbook registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey:    make(map[models.Key]*models.Runbook),
		versions: make(map[string][]string),
	}
}

// Register stores a validated runbook under its (id, version) key.
func (r *Registry) Register(rb *models.Runbook) error {
	key := models.Key{ID: rb.ID, Version: rb.Version}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[key]; exists {
		return fmt.Errorf("%w: %s@%s", ErrVersionExists, rb.ID, rb.Version)
	}
	r.byKey[key] = rb
	r.versions[rb.ID] = append(r.versions[rb.ID], rb.Version)
	return nil
}

// Get returns one exact (id, version).
func (r *Registry) Get(id, version string) (*models.Runbook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rb, ok := r.byKey[models.Key{ID: id, Version: version}]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrRunbookNotFound, id, version)
	}
	return rb, nil
}

// Latest returns the highest registered version of a runbook id.
func (r *Registry) Latest(id string) (*models.Runbook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.versions[id]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunbookNotFound, id)
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if compareVersions(v, best) > 0 {
			best = v
		}
	}
	return r.byKey[models.Key{ID: id, Version: best}], nil
}

// List returns the latest version of every registered runbook, sorted by id.
func (r *Registry) List() []*models.Runbook {
	r.mu.RLock()
	ids := make([]string, 0, len(r.versions))
	for id := range r.versions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	out := make([]*models.Runbook, 0, len(ids))
	for _, id := range ids {
		if rb, err := r.Latest(id); err == nil {
			out = append(out, rb)
		}
	}
	return out
}

// Size returns the number of registered (id, version) pairs.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

// MatchAlert returns the latest-version runbooks whose triggers accept the
// alert, sorted by id. Every declared trigger dimension must match; an
// undeclared dimension matches anything.
func (r *Registry) MatchAlert(alert *models.AlertEvent) []*models.Runbook {
	if alert == nil {
		return nil
	}
	var out []*models.Runbook
	for _, rb := range r.List() {
		if triggersMatch(rb.Triggers, alert) {
			out = append(out, rb)
		}
	}
	return out
}

func triggersMatch(t models.RunbookTriggers, alert *models.AlertEvent) bool {
	if len(t.Sources) > 0 && !slices.Contains(t.Sources, alert.Source) {
		return false
	}
	if len(t.Severities) > 0 && !slices.Contains(t.Severities, alert.Severity) {
		return false
	}
	if len(t.Techniques) > 0 {
		matched := false
		for _, technique := range alert.MITRETechniques {
			if slices.Contains(t.Techniques, technique) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(t.Platforms) > 0 {
		platform, _ := alert.Host["platform"].(string)
		if !slices.Contains(t.Platforms, platform) {
			return false
		}
	}
	return true
}

// compareVersions orders dotted numeric versions ("1.10.0" > "1.9.2").
// Non-numeric segments fall back to string comparison.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		na, aErr := strconv.Atoi(sa)
		nb, bErr := strconv.Atoi(sb)
		if aErr == nil && bErr == nil {
			if na != nb {
				if na > nb {
					return 1
				}
				return -1
			}
			continue
		}
		if sa != sb {
			return strings.Compare(sa, sb)
		}
	}
	return 0
}
