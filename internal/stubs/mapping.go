package stubs

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mapping is one stub rule as the admin API represents it: a request matcher
// plus a canned response, identified by a server-assigned id.
type Mapping struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	Request      RequestPattern  `json:"request"`
	Response     ResponseDef     `json:"response"`
	Priority     int             `json:"priority,omitempty"`
	ScenarioName string          `json:"scenarioName,omitempty"`
	Metadata     MappingMetadata `json:"metadata,omitempty"`
}

type RequestPattern struct {
	Method     string            `json:"method,omitempty"`
	URL        string            `json:"url,omitempty"`
	URLPattern string            `json:"urlPattern,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

type ResponseDef struct {
	Status  int               `json:"status,omitempty"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type MappingMetadata struct {
	CreatedAt string `json:"createdAt,omitempty"`
	EditedAt  string `json:"editedAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	Source    string `json:"source,omitempty"`
	Type      string `json:"type,omitempty"`
}

const DefaultPriority = 1

// SourceOptimistic marks entities created locally and not yet confirmed by the
// server. It is a client-only field and is stripped before any snapshot
// persist.
const SourceOptimistic = "optimistic"

type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// PendingOp is an unconfirmed local mutation intent overlaid on the
// authoritative set. At most one exists per entity id; a newer intent for the
// same id replaces the older one.
type PendingOp struct {
	ID        string          `json:"id"`
	Kind      OpKind          `json:"kind"`
	Mapping   *Mapping        `json:"mapping,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Retries   int             `json:"retries,omitempty"`
}

// NewTempID returns a client-generated id for an optimistic create. The
// temp- prefix keeps it recognizable until the server issues the real id.
func NewTempID() string {
	return "temp-" + uuid.NewString()
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, "temp-")
}

func (m Mapping) Clone() Mapping {
	out := m
	out.Request.Headers = cloneStringMap(m.Request.Headers)
	out.Response.Headers = cloneStringMap(m.Response.Headers)
	return out
}

// EffectivePriority normalizes an unset priority to the default so mappings
// sort uniformly.
func (m Mapping) EffectivePriority() int {
	if m.Priority == 0 {
		return DefaultPriority
	}
	return m.Priority
}

// EditedAtTime resolves the server-side modification instant used by the
// last-write-wins comparison: editedAt, then updatedAt, then createdAt, then
// the zero time.
func (m Mapping) EditedAtTime() time.Time {
	for _, raw := range []string{m.Metadata.EditedAt, m.Metadata.UpdatedAt, m.Metadata.CreatedAt} {
		if raw == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// Sanitized returns a copy with every client-only bookkeeping field removed,
// fit for persisting into the remote snapshot.
func (m Mapping) Sanitized() Mapping {
	out := m.Clone()
	if out.Metadata.Source == SourceOptimistic {
		out.Metadata.Source = ""
	}
	return out
}

// canonical is the serialized form compared by the incremental diff. Mappings
// whose canonical forms match are considered unchanged.
func (m Mapping) canonical() string {
	b, err := json.Marshal(m)
	if err != nil {
		return m.ID
	}
	return string(b)
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
