package models

// AuditEvent is a change event reported by an application.
// The json tags are the document field names.
type AuditEvent struct {
	Event         string         `json:"event"`
	AuditableID   string         `json:"auditable_id"`
	AuditableType string         `json:"auditable_type"`
	OldValues     map[string]any `json:"old_values,omitempty"`
	NewValues     map[string]any `json:"new_values,omitempty"`
	URL           string         `json:"url,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	UserType      string         `json:"user_type,omitempty"`
	Tags          string         `json:"tags,omitempty"`
	CreatedAt     string         `json:"created_at,omitempty"`
}

// Body flattens the event into a document body. Empty optional fields are left out
// so the indexer can stamp timestamps.
func (e AuditEvent) Body() map[string]any {
	body := map[string]any{
		"event":          e.Event,
		"auditable_id":   e.AuditableID,
		"auditable_type": e.AuditableType,
		"old_values":     orEmpty(e.OldValues),
		"new_values":     orEmpty(e.NewValues),
	}
	for key, val := range map[string]string{
		"url":        e.URL,
		"ip_address": e.IPAddress,
		"user_agent": e.UserAgent,
		"user_id":    e.UserID,
		"user_type":  e.UserType,
		"tags":       e.Tags,
		"created_at": e.CreatedAt,
	} {
		if val != "" {
			body[key] = val
		}
	}
	return body
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// AuditEventFilter narrows a search over all audit entries.
type AuditEventFilter struct {
	Event         *string `json:"event,omitempty"`
	AuditableType *string `json:"auditable_type,omitempty"`
	AuditableID   *string `json:"auditable_id,omitempty"`
	UserID        *string `json:"user_id,omitempty"`
	From          *string `json:"from,omitempty"`
	To            *string `json:"to,omitempty"`
	Limit         int     `json:"limit,omitempty"`
	Offset        int     `json:"offset,omitempty"`
}
