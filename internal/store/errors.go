// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package store

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorageConflict is returned when an optimistic version check fails,
	// meaning another writer transitioned the shipment first. Callers reload
	// and retry.
	ErrStorageConflict = errors.New("storage conflict")
)
