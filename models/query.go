package models

import (
	"time"
)

// Query is an immutable search request. Every With method returns a new
// Query and leaves the receiver untouched.
type Query struct {
	rangeFields []string
	ranges      map[string]map[string]string
	must        []map[string]any
	should      []map[string]any
	size        *int
	from        *int
	sortField   string
	sortOrder   string
}

func NewQuery() Query {
	return Query{}
}

// WithDateRange bounds field by date using operator (gte, gt, lte, lt).
// A zero date returns q unchanged. Empty field and operator default to
// created_at and gte. Setting the same field and operator twice keeps the last value.
func (q Query) WithDateRange(date time.Time, field, operator string) Query {
	if date.IsZero() {
		return q
	}
	if field == "" {
		field = "created_at"
	}
	if operator == "" {
		operator = "gte"
	}

	out := q.clone()
	ops, ok := out.ranges[field]
	if !ok {
		out.rangeFields = append(out.rangeFields, field)
		ops = map[string]string{}
	} else {
		ops = copyOps(ops)
	}
	ops[operator] = date.UTC().Format(TimestampLayout)
	out.ranges[field] = ops
	return out
}

// WithTerm adds an optional term clause. At least one optional clause must match.
func (q Query) WithTerm(field string, value any) Query {
	out := q.clone()
	out.should = append(out.should, term(field, value))
	return out
}

// WithRequiredTerm adds a term clause every hit must match.
func (q Query) WithRequiredTerm(field string, value any) Query {
	out := q.clone()
	out.must = append(out.must, term(field, value))
	return out
}

func (q Query) WithPage(size, from int) Query {
	out := q.clone()
	out.size = &size
	out.from = &from
	return out
}

func (q Query) WithSort(field, order string) Query {
	out := q.clone()
	out.sortField = field
	out.sortOrder = order
	return out
}

// Body renders the search request body.
func (q Query) Body() map[string]any {
	body := map[string]any{
		"query":        q.query(),
		"track_scores": true,
	}
	if q.size != nil {
		body["size"] = *q.size
	}
	if q.from != nil {
		body["from"] = *q.from
	}
	if q.sortField != "" {
		order := q.sortOrder
		if order == "" {
			order = "desc"
		}
		body["sort"] = []any{map[string]any{q.sortField: map[string]any{"order": order}}}
	}
	return body
}

// CountBody renders the request body for a count, which only takes the query.
func (q Query) CountBody() map[string]any {
	return map[string]any{"query": q.query()}
}

func (q Query) query() map[string]any {
	must := make([]any, 0, len(q.rangeFields)+len(q.must))
	for _, field := range q.rangeFields {
		ops := make(map[string]any, len(q.ranges[field]))
		for op, v := range q.ranges[field] {
			ops[op] = v
		}
		must = append(must, map[string]any{"range": map[string]any{field: ops}})
	}
	for _, c := range q.must {
		must = append(must, c)
	}

	b := map[string]any{"must": must}
	if len(q.should) > 0 {
		should := make([]any, 0, len(q.should))
		for _, c := range q.should {
			should = append(should, c)
		}
		b["should"] = should
		b["minimum_should_match"] = 1
	}
	return map[string]any{"bool": b}
}

func (q Query) clone() Query {
	out := q
	out.rangeFields = append([]string(nil), q.rangeFields...)
	out.ranges = make(map[string]map[string]string, len(q.ranges))
	for k, v := range q.ranges {
		out.ranges[k] = v
	}
	out.must = append([]map[string]any(nil), q.must...)
	out.should = append([]map[string]any(nil), q.should...)
	return out
}

func copyOps(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func term(field string, value any) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}
