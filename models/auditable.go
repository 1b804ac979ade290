package models

// Auditable is any record whose audit trail can be read back.
type Auditable interface {
	AuditableID() string
	MorphType() string
	// AuditThreshold is the number of entries kept for the record, 0 keeps all.
	AuditThreshold() int
}

// Record is a plain Auditable for callers that only know the key.
type Record struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Threshold int    `json:"threshold"`
}

func (r Record) AuditableID() string { return r.ID }
func (r Record) MorphType() string   { return r.Type }
func (r Record) AuditThreshold() int { return r.Threshold }
