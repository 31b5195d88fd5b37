package engine

import (
	"context"
	"errors"

	"github.com/workpulse/graphsync/internal/provider"
)

// ErrMissingEntity marks a semantic failure: the event's kind requires a
// referent that is not in the graph. Retrying cannot create the missing
// entity, so these are dropped after logging; an out-of-band backfill is
// the only remedy.
var ErrMissingEntity = errors.New("referenced entity does not exist")

// ErrSuperseded marks an event whose effect is entirely outdated by
// already-applied newer state. It is acknowledged as a no-op.
var ErrSuperseded = errors.New("event superseded by newer state")

// isSemantic reports whether a derivation or apply failure is terminal
// for the event (no retry).
func isSemantic(err error) bool {
	return errors.Is(err, ErrMissingEntity) ||
		errors.Is(err, provider.ErrMalformedPayload) ||
		errors.Is(err, provider.ErrUnsupportedEventKind)
}

func isSuperseded(err error) bool {
	return errors.Is(err, ErrSuperseded)
}

// isTransient reports whether a failure is worth retrying with backoff.
// Context cancellation from shutdown is neither semantic nor transient.
func isTransient(err error) bool {
	if isSemantic(err) || errors.Is(err, ErrSuperseded) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
