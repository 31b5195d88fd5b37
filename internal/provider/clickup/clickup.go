// Package clickup maps ClickUp webhook deliveries to canonical events.
//
// ClickUp signs the raw body with HMAC-SHA256 in the X-Signature header
// and describes each change through history_items entries carrying the
// changed field with its before/after values.
package clickup

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
	signatureHeader = "X-Signature"
	signaturePrefix = "sha256="
)

// defaultEvents is the full native taxonomy this provider maps.
var defaultEvents = []string{
	"taskCreated",
	"taskUpdated",
	"taskDeleted",
	"taskStatusUpdated",
	"taskAssigneeUpdated",
	"taskDueDateUpdated",
	"taskPriorityUpdated",
	"taskMoved",
	"taskCommentPosted",
	"subtaskCreated",
	"subtaskUpdated",
	"subtaskDeleted",
}

// Provider implements provider.Provider for ClickUp.
type Provider struct {
	cfg       provider.Config
	supported map[string]struct{}
}

// New builds a ClickUp provider from its configuration. An empty
// cfg.Events list enables the full default taxonomy.
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

// SupportedEvents lists the native event types this provider accepts.
func (p *Provider) SupportedEvents() []string {
	out := make([]string, 0, len(defaultEvents))
	for _, e := range defaultEvents {
		if _, ok := p.supported[e]; ok {
			out = append(out, e)
		}
	}
	return out
}

// VerifySignature checks the X-Signature HMAC over the raw body.
func (p *Provider) VerifySignature(body []byte, header http.Header) bool {
	return security.VerifyHMAC(p.cfg.Secret, body, header.Get(signatureHeader), signaturePrefix)
}

// payload is the wire shape of a ClickUp webhook delivery.
type payload struct {
	Event        string        `json:"event"`
	TaskID       string        `json:"task_id"`
	WebhookID    string        `json:"webhook_id"`
	HistoryItems []historyItem `json:"history_items"`
	Task         *taskDetails  `json:"task"`
}

type historyItem struct {
	ID      string          `json:"id"`
	Date    string          `json:"date"` // ms since epoch, as string
	Field   string          `json:"field"`
	Before  json.RawMessage `json:"before"`
	After   json.RawMessage `json:"after"`
	User    *userRef        `json:"user"`
	Comment *commentRef     `json:"comment"`
}

type userRef struct {
	ID       json.Number `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
}

type commentRef struct {
	ID   string `json:"id"`
	Text string `json:"text_content"`
}

type taskDetails struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    *statusRef `json:"status"`
	Priority  *priRef    `json:"priority"`
	Assignees []userRef  `json:"assignees"`
	ListID    string     `json:"list_id"`
	Parent    string     `json:"parent"`
	Points    *float64   `json:"points"`
	DueDate   string     `json:"due_date"`
	StartDate string     `json:"start_date"`
	URL       string     `json:"url"`
	Archived  bool       `json:"archived"`
}

type statusRef struct {
	Status string `json:"status"`
}

type priRef struct {
	Priority string `json:"priority"`
}

// kindFor maps the native taxonomy to canonical kinds.
var kindFor = map[string]event.Kind{
	"taskCreated":         event.KindCreated,
	"taskUpdated":         event.KindUpdated,
	"taskDeleted":         event.KindDeleted,
	"taskStatusUpdated":   event.KindStatusChanged,
	"taskAssigneeUpdated": event.KindAssigneeChanged,
	"taskDueDateUpdated":  event.KindFieldChanged,
	"taskPriorityUpdated": event.KindPriorityChanged,
	"taskMoved":           event.KindMoved,
	"taskCommentPosted":   event.KindCreated,
	"subtaskCreated":      event.KindCreated,
	"subtaskUpdated":      event.KindUpdated,
	"subtaskDeleted":      event.KindDeleted,
}

// Normalize maps a ClickUp delivery to a canonical event.
func (p *Provider) Normalize(body []byte, _ http.Header) (*event.CanonicalEvent, error) {
	var pl payload
	if err := json.Unmarshal(body, &pl); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}
	if pl.Event == "" || pl.TaskID == "" {
		return nil, fmt.Errorf("%w: event and task_id are required", provider.ErrMalformedPayload)
	}

	kind, mapped := kindFor[pl.Event]
	if _, enabled := p.supported[pl.Event]; !mapped || !enabled {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnsupportedEventKind, pl.Event)
	}

	ev := &event.CanonicalEvent{
		Provider:   p.cfg.Name,
		Kind:       kind,
		EntityType: event.EntityTask,
		EntityID:   pl.TaskID,
		RawKind:    pl.Event,
		RawEventID: pl.rawEventID(),
		OccurredAt: pl.occurredAt(),
	}

	switch pl.Event {
	case "taskCreated", "subtaskCreated", "taskUpdated", "subtaskUpdated":
		ev.After = pl.taskFields()
		if len(ev.After) == 0 {
			ev.After = pl.changedFields()
		}
	case "taskStatusUpdated":
		ev.Before = pl.fieldTransition("status", true)
		ev.After = pl.fieldTransition("status", false)
	case "taskPriorityUpdated":
		ev.Before = pl.fieldTransition("priority", true)
		ev.After = pl.fieldTransition("priority", false)
	case "taskDueDateUpdated":
		ev.Before = pl.fieldTransition("due_date", true)
		ev.After = pl.fieldTransition("due_date", false)
	case "taskMoved":
		ev.Before = pl.fieldTransition("list_id", true)
		ev.After = pl.fieldTransition("list_id", false)
	case "taskAssigneeUpdated":
		ev.Before, ev.After = pl.assigneeTransition()
	case "taskCommentPosted":
		ev.EntityType = event.EntityComment
		ev.EntityID, ev.After = pl.commentFields()
		if ev.EntityID == "" {
			return nil, fmt.Errorf("%w: comment id missing", provider.ErrMalformedPayload)
		}
	}

	return ev, nil
}

// rawEventID prefers the history item id, ClickUp's only per-delivery
// identifier. Deliveries without history (taskCreated fetched snapshots,
// deletes) fall back to a per-entity key; those events are one-shot per
// entity so the fallback still dedups redeliveries correctly.
func (pl *payload) rawEventID() string {
	if len(pl.HistoryItems) > 0 && pl.HistoryItems[0].ID != "" {
		return pl.HistoryItems[0].ID
	}
	return pl.Event + ":" + pl.TaskID
}

func (pl *payload) occurredAt() time.Time {
	if len(pl.HistoryItems) > 0 {
		if ms, err := strconv.ParseInt(pl.HistoryItems[0].Date, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Now().UTC()
}

// taskFields flattens the embedded task snapshot into canonical fields.
func (pl *payload) taskFields() map[string]interface{} {
	t := pl.Task
	if t == nil {
		return nil
	}
	after := map[string]interface{}{}
	if t.Name != "" {
		after["name"] = t.Name
	}
	if t.Status != nil && t.Status.Status != "" {
		after["status"] = t.Status.Status
	}
	if t.Priority != nil && t.Priority.Priority != "" {
		after["priority"] = t.Priority.Priority
	}
	if t.ListID != "" {
		after["list_id"] = t.ListID
	}
	if t.Parent != "" {
		after["parent"] = t.Parent
	}
	if t.Points != nil {
		after["points"] = *t.Points
	}
	if t.DueDate != "" {
		after["due_date"] = t.DueDate
	}
	if t.StartDate != "" {
		after["start_date"] = t.StartDate
	}
	if t.URL != "" {
		after["url"] = t.URL
	}
	if t.Archived {
		after["archived"] = true
	}
	assignees := make([]interface{}, 0, len(t.Assignees))
	for _, a := range t.Assignees {
		assignees = append(assignees, a.ID.String())
	}
	after["assignees"] = assignees
	return after
}

// changedFields collects field→after-value pairs from history items, for
// updates delivered without a task snapshot.
func (pl *payload) changedFields() map[string]interface{} {
	if len(pl.HistoryItems) == 0 {
		return nil
	}
	out := map[string]interface{}{}
	for _, h := range pl.HistoryItems {
		if h.Field == "" {
			continue
		}
		if v := scalarValue(h.After, h.Field); v != nil {
			out[h.Field] = v
		}
	}
	return out
}

// fieldTransition extracts one side of a single field's change.
func (pl *payload) fieldTransition(field string, before bool) map[string]interface{} {
	for _, h := range pl.HistoryItems {
		if h.Field != field {
			continue
		}
		raw := h.After
		if before {
			raw = h.Before
		}
		if v := scalarValue(raw, field); v != nil {
			return map[string]interface{}{field: v}
		}
		return nil
	}
	return nil
}

// assigneeTransition handles ClickUp's assignee_add / assignee_rem
// history fields, which carry a user object on one side only.
func (pl *payload) assigneeTransition() (before, after map[string]interface{}) {
	for _, h := range pl.HistoryItems {
		switch h.Field {
		case "assignee_add":
			var u userRef
			if err := json.Unmarshal(h.After, &u); err == nil && u.ID.String() != "" {
				after = map[string]interface{}{"assignee": u.ID.String()}
			}
		case "assignee_rem":
			var u userRef
			if err := json.Unmarshal(h.Before, &u); err == nil && u.ID.String() != "" {
				before = map[string]interface{}{"assignee": u.ID.String()}
			}
		}
	}
	return before, after
}

func (pl *payload) commentFields() (string, map[string]interface{}) {
	for _, h := range pl.HistoryItems {
		if h.Comment == nil || h.Comment.ID == "" {
			continue
		}
		after := map[string]interface{}{
			"task_id": pl.TaskID,
			"text":    h.Comment.Text,
		}
		if h.User != nil {
			after["author"] = h.User.ID.String()
		}
		return h.Comment.ID, after
	}
	return "", nil
}

// scalarValue decodes a history item value, which ClickUp delivers either
// as a bare scalar or as an object keyed by the field name.
func scalarValue(raw json.RawMessage, field string) interface{} {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{field, "status", "priority", "value", "id"} {
			if v, ok := obj[key]; ok && v != nil {
				return v
			}
		}
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return nil
}
