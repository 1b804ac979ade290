package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 9, 14, 5, 7, 999, time.FixedZone("CET", 3600))

func TestNewAuditDocument_StampsMissingTimestamps(t *testing.T) {
	in := map[string]any{"name": "Test Doe"}

	doc := NewAuditDocument("mocked", "mocked", in, fixedNow)

	assert.Equal(t, "mocked", doc.Index)
	assert.Equal(t, "mocked", doc.Type)
	assert.Equal(t, map[string]any{
		"name":       "Test Doe",
		"created_at": "2024-03-09 13:05:07",
		"updated_at": "2024-03-09 13:05:07",
	}, doc.Body)
	// caller's map is not modified
	assert.Equal(t, map[string]any{"name": "Test Doe"}, in)

	parsed, err := uuid.Parse(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
}

func TestNewAuditDocument_KeepsCallerTimestamps(t *testing.T) {
	in := map[string]any{"created_at": "2001-01-01 00:00:00", "updated_at": "caller value"}

	doc := NewAuditDocument("i", "t", in, fixedNow)

	assert.Equal(t, "2001-01-01 00:00:00", doc.Body["created_at"])
	assert.Equal(t, "caller value", doc.Body["updated_at"])
}

func TestNewAuditDocument_DistinctIDs(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		id := NewAuditDocument("i", "t", nil, fixedNow).ID
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestRecordIsAuditable(t *testing.T) {
	var a Auditable = Record{ID: "42", Type: "App\\User", Threshold: 5}
	assert.Equal(t, "42", a.AuditableID())
	assert.Equal(t, "App\\User", a.MorphType())
	assert.Equal(t, 5, a.AuditThreshold())
}

func TestAuditEventBody(t *testing.T) {
	ev := AuditEvent{
		Event:         "updated",
		AuditableID:   "7",
		AuditableType: "post",
		NewValues:     map[string]any{"title": "new"},
		IPAddress:     "127.0.0.1",
	}

	body := ev.Body()

	assert.Equal(t, "updated", body["event"])
	assert.Equal(t, "7", body["auditable_id"])
	assert.Equal(t, map[string]any{}, body["old_values"])
	assert.Equal(t, map[string]any{"title": "new"}, body["new_values"])
	assert.Equal(t, "127.0.0.1", body["ip_address"])
	assert.NotContains(t, body, "url")
	assert.NotContains(t, body, "created_at")
}

func TestQuery_IsImmutable(t *testing.T) {
	base := NewQuery().WithTerm("event", "created")

	a := base.WithTerm("event", "updated")
	b := base.WithDateRange(fixedNow, "", "")

	baseBool := base.Body()["query"].(map[string]any)["bool"].(map[string]any)
	assert.Len(t, baseBool["should"], 1)
	assert.Empty(t, baseBool["must"])

	aBool := a.Body()["query"].(map[string]any)["bool"].(map[string]any)
	assert.Len(t, aBool["should"], 2)

	bBool := b.Body()["query"].(map[string]any)["bool"].(map[string]any)
	assert.Len(t, bBool["should"], 1)
	assert.Len(t, bBool["must"], 1)
}

func TestQuery_DateRange(t *testing.T) {
	assert.Equal(t, NewQuery().Body(), NewQuery().WithDateRange(time.Time{}, "created_at", "gte").Body())

	later := fixedNow.Add(time.Hour)
	q := NewQuery().
		WithDateRange(fixedNow, "", "").
		WithDateRange(later, "created_at", "lte").
		WithDateRange(later, "created_at", "gte")

	must := q.Body()["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)
	require.Len(t, must, 1)
	assert.Equal(t, map[string]any{
		"range": map[string]any{
			"created_at": map[string]any{
				"gte": "2024-03-09 14:05:07",
				"lte": "2024-03-09 14:05:07",
			},
		},
	}, must[0])
}

func TestQuery_BodyShape(t *testing.T) {
	q := NewQuery().
		WithRequiredTerm("auditable_id", "42").
		WithRequiredTerm("auditable_type", "user").
		WithPage(10, 20).
		WithSort("created_at", "asc")

	assert.Equal(t, map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{"term": map[string]any{"auditable_id": "42"}},
					map[string]any{"term": map[string]any{"auditable_type": "user"}},
				},
			},
		},
		"track_scores": true,
		"size":         10,
		"from":         20,
		"sort":         []any{map[string]any{"created_at": map[string]any{"order": "asc"}}},
	}, q.Body())

	count := q.WithTerm("event", "deleted").CountBody()
	assert.Len(t, count, 1)
	b := count["query"].(map[string]any)["bool"].(map[string]any)
	assert.Equal(t, 1, b["minimum_should_match"])
}
