// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

// Package registry holds the occurrence code taxonomy: the mapping from
// carrier occurrence codes to canonical statuses, severities, and terminal
// flags. The table is an immutable snapshot swapped atomically on reload;
// lookups never observe a partially loaded table.
package registry

import (
	"fmt"
	"sync/atomic"

	"github.com/mfvianna/shiptrace/internal/logging"
	"github.com/mfvianna/shiptrace/internal/models"
)

// snapshot is one immutable generation of the code table.
type snapshot struct {
	codes map[string]models.OccurrenceCode
}

// Registry resolves occurrence codes to their canonical classification.
// Safe for concurrent use; Reload swaps the whole table atomically.
type Registry struct {
	current atomic.Pointer[snapshot]
}

// New creates a registry loaded with the given codes.
// Returns an error if the seed itself is invalid; the registry is unusable
// until a first successful load.
func New(codes []models.OccurrenceCode) (*Registry, error) {
	r := &Registry{}
	if err := r.Reload(codes); err != nil {
		return nil, err
	}
	return r, nil
}

// NewBuiltin creates a registry loaded with the built-in SSW seed table.
func NewBuiltin() *Registry {
	r, err := New(SeedCodes())
	if err != nil {
		// The built-in seed is validated by tests; a failure here is a
		// programming error, not a runtime condition.
		panic(fmt.Sprintf("registry: built-in seed invalid: %v", err))
	}
	return r
}

// Reload atomically replaces the code table. The reload is all-or-nothing:
// on any validation error the previous table stays in effect.
func (r *Registry) Reload(codes []models.OccurrenceCode) error {
	table := make(map[string]models.OccurrenceCode, len(codes))
	for _, c := range codes {
		if c.Code == "" {
			return fmt.Errorf("registry: empty occurrence code")
		}
		if _, exists := table[c.Code]; exists {
			return fmt.Errorf("registry: duplicate occurrence code %q", c.Code)
		}
		if !c.CanonicalStatus.Valid() {
			return fmt.Errorf("registry: code %q has invalid canonical status %q", c.Code, c.CanonicalStatus)
		}
		if !c.Severity.Valid() {
			return fmt.Errorf("registry: code %q has invalid severity %q", c.Code, c.Severity)
		}
		table[c.Code] = c
	}

	r.current.Store(&snapshot{codes: table})
	logging.Debug().Int("codes", len(table)).Msg("Occurrence code table loaded")
	return nil
}

// Lookup resolves an occurrence code. The second return value is false for
// codes absent from the taxonomy; callers decide policy (the normalizer
// accepts unknowns as unclassified rather than dropping carrier data).
func (r *Registry) Lookup(code string) (models.OccurrenceCode, bool) {
	snap := r.current.Load()
	if snap == nil {
		return models.OccurrenceCode{}, false
	}
	c, ok := snap.codes[code]
	return c, ok
}

// Len returns the number of codes in the current table.
func (r *Registry) Len() int {
	snap := r.current.Load()
	if snap == nil {
		return 0
	}
	return len(snap.codes)
}

// All returns a copy of the current table's codes, for seeding the store and
// for the read-only API surface.
func (r *Registry) All() []models.OccurrenceCode {
	snap := r.current.Load()
	if snap == nil {
		return nil
	}
	out := make([]models.OccurrenceCode, 0, len(snap.codes))
	for _, c := range snap.codes {
		out = append(out, c)
	}
	return out
}
