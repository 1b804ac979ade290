package models

import (
	"time"

	"github.com/google/uuid"
)

// TimestampLayout matches the default index date format yyyy-MM-dd HH:mm:ss.
const TimestampLayout = "2006-01-02 15:04:05"

// AuditDocument is one audit entry on its way into the index.
// Body keys are the indexed fields.
type AuditDocument struct {
	Index string         `json:"index"`
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Body  map[string]any `json:"body"`
}

// NewAuditDocument copies body, stamps created_at and updated_at when they
// are absent and assigns a fresh v4 id.
func NewAuditDocument(index, docType string, body map[string]any, now time.Time) AuditDocument {
	out := make(map[string]any, len(body)+2)
	for k, v := range body {
		out[k] = v
	}

	stamp := now.UTC().Truncate(time.Second).Format(TimestampLayout)
	for _, key := range []string{"created_at", "updated_at"} {
		if _, ok := out[key]; !ok {
			out[key] = stamp
		}
	}

	return AuditDocument{
		Index: index,
		Type:  docType,
		ID:    uuid.NewString(),
		Body:  out,
	}
}
