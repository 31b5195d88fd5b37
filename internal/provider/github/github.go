// Package github maps GitHub issue webhooks to canonical events.
//
// GitHub signs the raw body with HMAC-SHA256 in X-Hub-Signature-256 and
// carries the event family (X-GitHub-Event) and delivery id
// (X-GitHub-Delivery) in headers rather than the body.
package github

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/workpulse/graphsync/internal/event"
	"github.com/workpulse/graphsync/internal/provider"
	"github.com/workpulse/graphsync/internal/security"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
	eventHeader     = "X-GitHub-Event"
	deliveryHeader  = "X-GitHub-Delivery"
)

// defaultEvents is the issues taxonomy this provider maps, written as
// "<event>.<action>" to match GitHub's header/body split.
var defaultEvents = []string{
	"issues.opened",
	"issues.edited",
	"issues.closed",
	"issues.reopened",
	"issues.assigned",
	"issues.unassigned",
	"issues.transferred",
	"issues.deleted",
}

var kindFor = map[string]event.Kind{
	"issues.opened":      event.KindCreated,
	"issues.edited":      event.KindUpdated,
	"issues.closed":      event.KindStatusChanged,
	"issues.reopened":    event.KindStatusChanged,
	"issues.assigned":    event.KindAssigneeChanged,
	"issues.unassigned":  event.KindAssigneeChanged,
	"issues.transferred": event.KindMoved,
	"issues.deleted":     event.KindDeleted,
}

// Provider implements provider.Provider for GitHub issue events.
type Provider struct {
	cfg       provider.Config
	supported map[string]struct{}
}

// New builds a GitHub provider from its configuration.
func New(cfg provider.Config) *Provider {
	events := cfg.Events
	if len(events) == 0 {
		events = defaultEvents
	}
	supported := make(map[string]struct{}, len(events))
	for _, e := range events {
		supported[e] = struct{}{}
	}
	return &Provider{cfg: cfg, supported: supported}
}

func (p *Provider) Name() string            { return p.cfg.Name }
func (p *Provider) Config() provider.Config { return p.cfg }

func (p *Provider) SupportedEvents() []string {
	out := make([]string, 0, len(defaultEvents))
	for _, e := range defaultEvents {
		if _, ok := p.supported[e]; ok {
			out = append(out, e)
		}
	}
	return out
}

// VerifySignature checks the X-Hub-Signature-256 HMAC over the raw body.
func (p *Provider) VerifySignature(body []byte, header http.Header) bool {
	return security.VerifyHMAC(p.cfg.Secret, body, header.Get(signatureHeader), signaturePrefix)
}

type payload struct {
	Action     string   `json:"action"`
	Issue      *issue   `json:"issue"`
	Changes    *changes `json:"changes"`
	Assignee   *account `json:"assignee"`
	Repository *repo    `json:"repository"`
}

type issue struct {
	NodeID    string   `json:"node_id"`
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	State     string   `json:"state"`
	Body      string   `json:"body"`
	UpdatedAt string   `json:"updated_at"`
	Assignee  *account `json:"assignee"`
}

type changes struct {
	Title *struct {
		From string `json:"from"`
	} `json:"title"`
	Body *struct {
		From string `json:"from"`
	} `json:"body"`
}

type account struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

type repo struct {
	FullName string `json:"full_name"`
}

// Normalize maps a GitHub issues delivery to a canonical event.
func (p *Provider) Normalize(body []byte, header http.Header) (*event.CanonicalEvent, error) {
	family := header.Get(eventHeader)
	if family == "" {
		return nil, fmt.Errorf("%w: missing %s header", provider.ErrMalformedPayload, eventHeader)
	}
	if family != "issues" {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnsupportedEventKind, family)
	}

	var pl payload
	if err := json.Unmarshal(body, &pl); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}
	if pl.Action == "" || pl.Issue == nil {
		return nil, fmt.Errorf("%w: action and issue are required", provider.ErrMalformedPayload)
	}

	native := family + "." + pl.Action
	kind, mapped := kindFor[native]
	if _, enabled := p.supported[native]; !mapped || !enabled {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnsupportedEventKind, native)
	}

	delivery := header.Get(deliveryHeader)
	if delivery == "" {
		return nil, fmt.Errorf("%w: missing %s header", provider.ErrMalformedPayload, deliveryHeader)
	}

	ev := &event.CanonicalEvent{
		Provider:   p.cfg.Name,
		Kind:       kind,
		EntityType: event.EntityTask,
		EntityID:   entityID(&pl),
		RawKind:    native,
		RawEventID: delivery,
		OccurredAt: occurredAt(pl.Issue),
	}
	if ev.EntityID == "" {
		return nil, fmt.Errorf("%w: issue id missing", provider.ErrMalformedPayload)
	}

	switch pl.Action {
	case "opened":
		ev.After = issueFields(&pl)
	case "edited":
		ev.After = issueFields(&pl)
		ev.Before = editedBefore(pl.Changes)
	case "closed":
		ev.Before = map[string]interface{}{"status": "open"}
		ev.After = map[string]interface{}{"status": "closed"}
	case "reopened":
		ev.Before = map[string]interface{}{"status": "closed"}
		ev.After = map[string]interface{}{"status": "open"}
	case "assigned":
		if pl.Assignee != nil {
			ev.After = map[string]interface{}{"assignee": strconv.FormatInt(pl.Assignee.ID, 10)}
		}
	case "unassigned":
		if pl.Assignee != nil {
			ev.Before = map[string]interface{}{"assignee": strconv.FormatInt(pl.Assignee.ID, 10)}
		}
	case "transferred":
		if pl.Repository != nil {
			ev.After = map[string]interface{}{"list_id": pl.Repository.FullName}
		}
	}

	return ev, nil
}

// entityID prefers the GraphQL node id, which survives issue transfers;
// repo#number is the fallback for older payloads.
func entityID(pl *payload) string {
	if pl.Issue.NodeID != "" {
		return pl.Issue.NodeID
	}
	if pl.Repository != nil && pl.Issue.Number > 0 {
		return fmt.Sprintf("%s#%d", pl.Repository.FullName, pl.Issue.Number)
	}
	return ""
}

func occurredAt(is *issue) time.Time {
	if ts, err := time.Parse(time.RFC3339, is.UpdatedAt); err == nil {
		return ts.UTC()
	}
	return time.Now().UTC()
}

func issueFields(pl *payload) map[string]interface{} {
	after := map[string]interface{}{
		"name":   pl.Issue.Title,
		"status": pl.Issue.State,
	}
	if pl.Issue.Body != "" {
		after["description"] = pl.Issue.Body
	}
	if pl.Repository != nil {
		after["list_id"] = pl.Repository.FullName
	}
	assignees := []interface{}{}
	if pl.Issue.Assignee != nil {
		assignees = append(assignees, strconv.FormatInt(pl.Issue.Assignee.ID, 10))
	}
	after["assignees"] = assignees
	return after
}

func editedBefore(ch *changes) map[string]interface{} {
	if ch == nil {
		return nil
	}
	before := map[string]interface{}{}
	if ch.Title != nil {
		before["name"] = ch.Title.From
	}
	if ch.Body != nil {
		before["description"] = ch.Body.From
	}
	if len(before) == 0 {
		return nil
	}
	return before
}
