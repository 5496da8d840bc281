package models

import (
	"errors"
	"fmt"
)

// ErrModelNotFound is returned by the registry for a model name that has never
// been observed or configured.
var ErrModelNotFound = errors.New("model not found")

// ItemErrorKind classifies per-item failures inside a scoring batch.
type ItemErrorKind int

const (
	// ItemNotFound / ItemNotScorable are expected outcomes from the scorer;
	// they are logged and skipped without failing the batch.
	ItemNotFound ItemErrorKind = iota
	ItemNotScorable
	// ItemUnconfiguredModel / ItemUnconfiguredClass indicate a mismatch between
	// the scorer response and static configuration.
	ItemUnconfiguredModel
	ItemUnconfiguredClass
)

func (k ItemErrorKind) String() string {
	switch k {
	case ItemNotFound:
		return "revision_not_found"
	case ItemNotScorable:
		return "revision_not_scorable"
	case ItemUnconfiguredModel:
		return "unconfigured_model"
	case ItemUnconfiguredClass:
		return "unconfigured_class"
	}
	return "unknown"
}

// ItemError is a per-(revision, model) failure. It never aborts the batch it
// occurred in; the batch driver collects it and excludes the item from stored
// results.
type ItemError struct {
	Kind       ItemErrorKind
	RevisionID int64
	Model      string
	Message    string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: revision %d, model %q: %s", e.Kind, e.RevisionID, e.Model, e.Message)
}

// Benign reports whether the error is an expected scorer outcome rather than a
// configuration mismatch.
func (e *ItemError) Benign() bool {
	return e.Kind == ItemNotFound || e.Kind == ItemNotScorable
}

// ServiceError is a hard upstream failure (non-2xx or unresolved timeout). It
// aborts the current fetch operation and must never be cached as a score.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("scoring service error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("scoring service error: %s", e.Message)
}

// ConfigError is a hard configuration problem, e.g. an unrecognized threshold
// formula string.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Field, e.Message)
}
