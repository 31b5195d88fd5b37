package provider

import (
	"errors"
	"net/http"

	"github.com/workpulse/graphsync/internal/event"
)

// Errors surfaced by normalization and registry lookups.
var (
	// ErrUnknownProvider means no provider is registered under that name.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrDuplicateProvider means a name was registered twice.
	ErrDuplicateProvider = errors.New("provider already registered")

	// ErrUnsupportedEventKind means the payload parsed but its native event
	// type has no canonical mapping. The delivery is acknowledged and
	// dropped, not retried.
	ErrUnsupportedEventKind = errors.New("unsupported event kind")

	// ErrMalformedPayload means required fields (entity id, event id) are
	// absent. Terminal for that delivery.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Config is the per-provider configuration snapshot, fixed at startup.
type Config struct {
	Name    string
	Enabled bool
	Secret  []byte

	// Events restricts which native event types are accepted. Empty means
	// the provider's full default taxonomy.
	Events []string
}

// Provider binds one webhook source's signature scheme and event taxonomy
// to the canonical vocabulary. Implementations are stateless; adding a
// source means adding one implementation, not touching shared dispatch.
type Provider interface {
	// Name returns the registry key, also the URL path segment.
	Name() string

	// Config returns the configuration this provider was built with.
	Config() Config

	// VerifySignature reports whether header carries a valid signature for
	// the raw, unparsed body.
	VerifySignature(body []byte, header http.Header) bool

	// Normalize maps a provider-native payload to a canonical event.
	// Headers are passed through because some providers carry the event
	// type and delivery id there rather than in the body.
	Normalize(body []byte, header http.Header) (*event.CanonicalEvent, error)

	// SupportedEvents lists the native event types this provider maps.
	SupportedEvents() []string
}
