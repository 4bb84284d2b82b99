package channel

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/tvplay/internal/models"
)

// Directory errors.
var (
	// ErrEmpty is returned when a directory would contain no targets.
	ErrEmpty = errors.New("channel directory is empty")
	// ErrNotFound is returned for an unknown target ID.
	ErrNotFound = errors.New("channel not found")
	// ErrDuplicateID is returned when two targets share an ID.
	ErrDuplicateID = errors.New("duplicate channel id")
)

// Directory is an immutable, ordered channel list with wrap-around
// navigation. It is safe for concurrent use.
type Directory struct {
	targets   []models.Target
	index     map[string]int
	defaultID string
}

// NewDirectory validates targets and builds a Directory. defaultID may be
// empty, in which case the first target is the default. Targets without a
// channel number are numbered by position.
func NewDirectory(targets []models.Target, defaultID string) (*Directory, error) {
	if len(targets) == 0 {
		return nil, ErrEmpty
	}

	d := &Directory{
		targets: make([]models.Target, len(targets)),
		index:   make(map[string]int, len(targets)),
	}
	for i, t := range targets {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("channel %d: %w", i+1, err)
		}
		if _, dup := d.index[t.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
		}
		if t.Number <= 0 {
			t.Number = i + 1
		}
		d.targets[i] = t
		d.index[t.ID] = i
	}

	if defaultID != "" {
		if _, ok := d.index[defaultID]; !ok {
			return nil, fmt.Errorf("default channel %q: %w", defaultID, ErrNotFound)
		}
	}
	d.defaultID = defaultID

	return d, nil
}

// Len returns the number of targets.
func (d *Directory) Len() int {
	return len(d.targets)
}

// All returns a copy of the targets in order.
func (d *Directory) All() []models.Target {
	out := make([]models.Target, len(d.targets))
	copy(out, d.targets)
	return out
}

// ByID returns the target with the given ID.
func (d *Directory) ByID(id string) (models.Target, error) {
	i, ok := d.index[id]
	if !ok {
		return models.Target{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d.targets[i], nil
}

// Default returns the configured default target, or the first one.
func (d *Directory) Default() models.Target {
	if d.defaultID != "" {
		return d.targets[d.index[d.defaultID]]
	}
	return d.targets[0]
}

// Next returns the target after id, wrapping to the first.
func (d *Directory) Next(id string) (models.Target, error) {
	return d.step(id, 1)
}

// Previous returns the target before id, wrapping to the last.
func (d *Directory) Previous(id string) (models.Target, error) {
	return d.step(id, -1)
}

func (d *Directory) step(id string, delta int) (models.Target, error) {
	i, ok := d.index[id]
	if !ok {
		return models.Target{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	n := len(d.targets)
	return d.targets[((i+delta)%n+n)%n], nil
}
