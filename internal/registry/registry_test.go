// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package registry

import (
	"sync"
	"testing"

	"github.com/mfvianna/shiptrace/internal/models"
)

func TestBuiltinSeed(t *testing.T) {
	r := NewBuiltin()

	if r.Len() != len(sswSeed) {
		t.Fatalf("Expected %d codes, got %d", len(sswSeed), r.Len())
	}

	t.Run("known codes resolve", func(t *testing.T) {
		tests := []struct {
			code     string
			status   models.CanonicalStatus
			terminal bool
		}{
			{"1", models.StatusDelivered, true},
			{"3", models.StatusReturned, true},
			{"80", models.StatusCollected, false},
			{"85", models.StatusOutForDelivery, false},
			{"84", models.StatusInTransit, false},
			{"55", models.StatusException, false},
		}
		for _, tt := range tests {
			c, ok := r.Lookup(tt.code)
			if !ok {
				t.Fatalf("Lookup(%q) not found", tt.code)
			}
			if c.CanonicalStatus != tt.status {
				t.Errorf("Lookup(%q).CanonicalStatus=%q, want %q", tt.code, c.CanonicalStatus, tt.status)
			}
			if c.Terminal != tt.terminal {
				t.Errorf("Lookup(%q).Terminal=%v, want %v", tt.code, c.Terminal, tt.terminal)
			}
		}
	})

	t.Run("unknown code is distinguished", func(t *testing.T) {
		if _, ok := r.Lookup("does-not-exist"); ok {
			t.Error("Expected lookup miss for unregistered code")
		}
	})

	t.Run("terminal implies terminal status", func(t *testing.T) {
		for _, c := range r.All() {
			if c.Terminal && !c.CanonicalStatus.IsTerminal() {
				t.Errorf("code %q is terminal but maps to %q", c.Code, c.CanonicalStatus)
			}
		}
	})
}

func TestReloadAtomicity(t *testing.T) {
	r := NewBuiltin()
	before := r.Len()

	t.Run("invalid reload keeps old table", func(t *testing.T) {
		err := r.Reload([]models.OccurrenceCode{
			{Code: "x", CanonicalStatus: "bogus", Severity: models.SeverityInfo},
		})
		if err == nil {
			t.Fatal("Expected error for invalid canonical status")
		}
		if r.Len() != before {
			t.Errorf("Table changed after failed reload: %d codes", r.Len())
		}
		if _, ok := r.Lookup("1"); !ok {
			t.Error("Old table no longer resolves after failed reload")
		}
	})

	t.Run("duplicate code rejected", func(t *testing.T) {
		err := r.Reload([]models.OccurrenceCode{
			{Code: "9", CanonicalStatus: models.StatusException, Severity: models.SeverityInfo},
			{Code: "9", CanonicalStatus: models.StatusException, Severity: models.SeverityInfo},
		})
		if err == nil {
			t.Fatal("Expected error for duplicate code")
		}
	})

	t.Run("valid reload swaps whole table", func(t *testing.T) {
		err := r.Reload([]models.OccurrenceCode{
			{Code: "100", Description: "custom", CanonicalStatus: models.StatusInTransit, Severity: models.SeverityInfo},
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if r.Len() != 1 {
			t.Errorf("Expected 1 code after reload, got %d", r.Len())
		}
		if _, ok := r.Lookup("1"); ok {
			t.Error("Old code still resolves after full swap")
		}
	})
}

func TestConcurrentLookupDuringReload(t *testing.T) {
	r := NewBuiltin()
	seed := SeedCodes()

	stop := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for {
			select {
			case <-stop:
				return
			default:
				if err := r.Reload(seed); err != nil {
					t.Error(err)
					return
				}
			}
		}
	}()

	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for j := 0; j < 1000; j++ {
				if _, ok := r.Lookup("85"); !ok {
					t.Error("Lookup missed during reload; snapshot not atomic")
					return
				}
			}
		}()
	}

	readers.Wait()
	close(stop)
	<-writerDone
}
