package engine

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/siteforge/wttpd/pkg/types"
)

// AuditKind labels a committed mutation in the audit stream.
type AuditKind string

const (
	AuditCreated AuditKind = "created"
	AuditUpdated AuditKind = "updated"
	AuditDeleted AuditKind = "deleted"
	AuditDefined AuditKind = "defined"
)

// AuditEvent is emitted after each committed mutation, for external
// indexers. It is observability only and never part of the verb control
// flow.
type AuditEvent struct {
	ID      string
	Kind    AuditKind
	Path    string
	Version uint64
	Caller  types.Identity
}

func (e *Engine) emit(kind AuditKind, path string, version uint64, caller types.Identity) {
	event := AuditEvent{
		ID:      uuid.NewString(),
		Kind:    kind,
		Path:    path,
		Version: version,
		Caller:  caller,
	}

	e.log.WithFields(logrus.Fields{
		"event":   event.ID,
		"kind":    event.Kind,
		"path":    event.Path,
		"version": event.Version,
		"caller":  event.Caller,
	}).Info("resource mutated")

	if e.onAudit != nil {
		e.onAudit(event)
	}
}
