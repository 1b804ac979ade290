// Package opensearchtest provides an in-memory search engine speaking the
// REST shapes used by the audit log: index lifecycle, aliases, documents,
// bulk, search and count.
package opensearchtest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type index struct {
	body  map[string]any
	docs  map[string]map[string]any
	order []string
}

// Server is an httptest server backed by in-memory indices.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	indices map[string]*index
	aliases map[string]string
	calls   map[string]int
	fail    map[string]int
	nextID  int
}

// NewServer starts a server. Close it when done.
func NewServer() *Server {
	s := &Server{
		indices: map[string]*index{},
		aliases: map[string]string{},
		calls:   map[string]int{},
		fail:    map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Calls returns how many requests of op were received. Op names are
// "ping", "index", "delete", "get", "search", "count", "bulk",
// "indices.exists", "indices.create", "indices.delete" and "indices.update_aliases".
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// FailWith makes every following op request answer with status.
func (s *Server) FailWith(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = status
}

// HasIndex reports whether name exists.
func (s *Server) HasIndex(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indices[name]
	return ok
}

// IndexBody returns the body the index was created with.
func (s *Server) IndexBody(name string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indices[name]; ok {
		return idx.body
	}
	return nil
}

// Alias returns the index alias points at.
func (s *Server) Alias(alias string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.aliases[alias]
	return target, ok
}

// Document returns the stored source of id.
func (s *Server) Document(indexName, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[s.resolve(indexName)]
	if !ok {
		return nil, false
	}
	doc, ok := idx.docs[id]
	return doc, ok
}

// DocumentCount returns the number of documents in indexName.
func (s *Server) DocumentCount(indexName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indices[s.resolve(indexName)]; ok {
		return len(idx.docs)
	}
	return 0
}

// Put stores a document directly, creating the index if needed.
func (s *Server) Put(indexName, id string, source map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(indexName, id, source)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if parts[0] == "" {
		parts = nil
	}

	op := route(r.Method, parts)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[op]++
	if status, ok := s.fail[op]; ok {
		writeJSON(w, status, map[string]any{"error": map[string]any{"type": "injected_failure"}, "status": status})
		return
	}

	switch op {
	case "ping":
		writeJSON(w, http.StatusOK, map[string]any{"name": "opensearchtest"})
	case "indices.update_aliases":
		s.updateAliases(w, body)
	case "bulk":
		defaultIndex := ""
		if len(parts) == 2 {
			defaultIndex = parts[0]
		}
		s.bulk(w, defaultIndex, body)
	case "indices.exists":
		if _, ok := s.indices[s.resolve(parts[0])]; ok {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case "indices.create":
		if _, ok := s.indices[parts[0]]; ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"type": "resource_already_exists_exception"}, "status": 400})
			return
		}
		var mapping map[string]any
		_ = json.Unmarshal(body, &mapping)
		s.indices[parts[0]] = &index{body: mapping, docs: map[string]map[string]any{}}
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "index": parts[0]})
	case "indices.delete":
		name := s.resolve(parts[0])
		if _, ok := s.indices[name]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"type": "index_not_found_exception"}, "status": 404})
			return
		}
		delete(s.indices, name)
		for alias, target := range s.aliases {
			if target == name {
				delete(s.aliases, alias)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	case "index":
		var source map[string]any
		if err := json.Unmarshal(body, &source); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "status": 400})
			return
		}
		id := ""
		if len(parts) == 3 {
			id = parts[2]
		}
		id = s.store(parts[0], id, source)
		writeJSON(w, http.StatusCreated, map[string]any{"_index": s.resolve(parts[0]), "_id": id, "result": "created"})
	case "get":
		idx, ok := s.indices[s.resolve(parts[0])]
		if ok {
			if doc, found := idx.docs[parts[2]]; found {
				writeJSON(w, http.StatusOK, map[string]any{"_id": parts[2], "found": true, "_source": doc})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"_id": parts[2], "found": false})
	case "delete":
		idx, ok := s.indices[s.resolve(parts[0])]
		if ok {
			if _, found := idx.docs[parts[2]]; found {
				idx.remove(parts[2])
				writeJSON(w, http.StatusOK, map[string]any{"_id": parts[2], "result": "deleted"})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"_id": parts[2], "result": "not_found"})
	case "search":
		s.search(w, r, parts[0], body)
	case "count":
		s.count(w, parts[0], body)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("unsupported %s %s", r.Method, r.URL.Path), "status": 400})
	}
}

func route(method string, parts []string) string {
	switch {
	case len(parts) == 0:
		return "ping"
	case parts[0] == "_aliases":
		return "indices.update_aliases"
	case parts[0] == "_bulk" || (len(parts) == 2 && parts[1] == "_bulk"):
		return "bulk"
	case len(parts) == 1:
		switch method {
		case http.MethodHead:
			return "indices.exists"
		case http.MethodPut:
			return "indices.create"
		case http.MethodDelete:
			return "indices.delete"
		}
	case parts[1] == "_search":
		return "search"
	case parts[1] == "_count":
		return "count"
	case parts[1] == "_doc":
		switch {
		case method == http.MethodDelete && len(parts) == 3:
			return "delete"
		case method == http.MethodGet && len(parts) == 3:
			return "get"
		case method == http.MethodPut || method == http.MethodPost:
			return "index"
		}
	}
	return "unsupported"
}

func (s *Server) resolve(name string) string {
	if target, ok := s.aliases[name]; ok {
		return target
	}
	return name
}

func (s *Server) store(indexName, id string, source map[string]any) string {
	name := s.resolve(indexName)
	idx, ok := s.indices[name]
	if !ok {
		idx = &index{docs: map[string]map[string]any{}}
		s.indices[name] = idx
	}
	if id == "" {
		s.nextID++
		id = "auto-" + strconv.Itoa(s.nextID)
	}
	if _, exists := idx.docs[id]; !exists {
		idx.order = append(idx.order, id)
	}
	idx.docs[id] = source
	return id
}

func (idx *index) remove(id string) {
	delete(idx.docs, id)
	for i, v := range idx.order {
		if v == id {
			idx.order = append(idx.order[:i], idx.order[i+1:]...)
			return
		}
	}
}

func (s *Server) updateAliases(w http.ResponseWriter, body []byte) {
	var req struct {
		Actions []map[string]struct {
			Index string `json:"index"`
			Alias string `json:"alias"`
		} `json:"actions"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "status": 400})
		return
	}
	for _, action := range req.Actions {
		for kind, a := range action {
			if _, ok := s.indices[a.Index]; !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"type": "index_not_found_exception"}, "status": 404})
				return
			}
			switch kind {
			case "add":
				s.aliases[a.Alias] = a.Index
			case "remove":
				delete(s.aliases, a.Alias)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func (s *Server) bulk(w http.ResponseWriter, defaultIndex string, body []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var items []map[string]any
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var action map[string]struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		}
		if err := json.Unmarshal(line, &action); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "status": 400})
			return
		}
		meta, ok := action["index"]
		if !ok {
			meta, ok = action["create"]
		}
		if !ok || !scanner.Scan() {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported bulk action", "status": 400})
			return
		}
		var source map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &source); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "status": 400})
			return
		}
		name := meta.Index
		if name == "" {
			name = defaultIndex
		}
		id := s.store(name, meta.ID, source)
		items = append(items, map[string]any{"index": map[string]any{"_index": s.resolve(name), "_id": id, "status": 201}})
	}
	writeJSON(w, http.StatusOK, map[string]any{"took": 1, "errors": false, "items": items})
}

type searchBody struct {
	Query       map[string]any `json:"query"`
	Size        *int           `json:"size"`
	From        *int           `json:"from"`
	Sort        []any          `json:"sort"`
	TrackScores bool           `json:"track_scores"`
}

func (s *Server) matching(indexName string, query map[string]any) ([]string, *index, bool) {
	idx, ok := s.indices[s.resolve(indexName)]
	if !ok {
		return nil, nil, false
	}
	var ids []string
	for _, id := range idx.order {
		if matches(idx.docs[id], query) {
			ids = append(ids, id)
		}
	}
	return ids, idx, true
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, indexName string, body []byte) {
	var req searchBody
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "status": 400})
			return
		}
	}
	ids, idx, ok := s.matching(indexName, req.Query)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"type": "index_not_found_exception"}, "status": 404})
		return
	}

	size, from := 10, 0
	if req.Size != nil {
		size = *req.Size
	}
	if req.From != nil {
		from = *req.From
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil {
		size = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("from")); err == nil {
		from = v
	}

	if field, desc := sortField(req.Sort, r.URL.Query().Get("sort")); field != "" {
		sort.SliceStable(ids, func(i, j int) bool {
			a := fmt.Sprint(lookup(idx.docs[ids[i]], field))
			b := fmt.Sprint(lookup(idx.docs[ids[j]], field))
			if desc {
				return a > b
			}
			return a < b
		})
	}

	total := len(ids)
	if from > len(ids) {
		from = len(ids)
	}
	ids = ids[from:]
	if size < len(ids) {
		ids = ids[:size]
	}

	hits := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		hits = append(hits, map[string]any{
			"_index":  s.resolve(indexName),
			"_id":     id,
			"_score":  1.0,
			"_source": idx.docs[id],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"took":      1,
		"timed_out": false,
		"hits": map[string]any{
			"total":     map[string]any{"value": total, "relation": "eq"},
			"max_score": 1.0,
			"hits":      hits,
		},
	})
}

func (s *Server) count(w http.ResponseWriter, indexName string, body []byte) {
	var req map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "status": 400})
			return
		}
	}
	for key := range req {
		if key != "query" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "request does not support [" + key + "]", "status": 400})
			return
		}
	}
	q, _ := req["query"].(map[string]any)
	ids, _, ok := s.matching(indexName, q)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"type": "index_not_found_exception"}, "status": 404})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(ids)})
}

func sortField(body []any, param string) (field string, desc bool) {
	if param != "" {
		field, order, _ := strings.Cut(param, ":")
		return field, order == "desc"
	}
	if len(body) == 0 {
		return "", false
	}
	switch first := body[0].(type) {
	case string:
		return first, false
	case map[string]any:
		for f, v := range first {
			switch o := v.(type) {
			case string:
				return f, o == "desc"
			case map[string]any:
				return f, o["order"] == "desc"
			}
		}
	}
	return "", false
}

func matches(doc map[string]any, query map[string]any) bool {
	if len(query) == 0 {
		return true
	}
	for kind, raw := range query {
		switch kind {
		case "match_all":
		case "term":
			if !matchTerm(doc, raw) {
				return false
			}
		case "range":
			if !matchRange(doc, raw) {
				return false
			}
		case "bool":
			if !matchBool(doc, raw) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func matchBool(doc map[string]any, raw any) bool {
	b, _ := raw.(map[string]any)
	for _, key := range []string{"must", "filter"} {
		for _, clause := range clauses(b[key]) {
			if !matches(doc, clause) {
				return false
			}
		}
	}
	for _, clause := range clauses(b["must_not"]) {
		if matches(doc, clause) {
			return false
		}
	}

	should := clauses(b["should"])
	minimum := 0
	if len(should) > 0 && len(clauses(b["must"])) == 0 && len(clauses(b["filter"])) == 0 {
		minimum = 1
	}
	if v, ok := b["minimum_should_match"].(float64); ok {
		minimum = int(v)
	}
	matched := 0
	for _, clause := range should {
		if matches(doc, clause) {
			matched++
		}
	}
	return matched >= minimum
}

func clauses(raw any) []map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		return []map[string]any{v}
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, c := range v {
			if m, ok := c.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func matchTerm(doc map[string]any, raw any) bool {
	term, _ := raw.(map[string]any)
	for field, want := range term {
		if m, ok := want.(map[string]any); ok {
			want = m["value"]
		}
		if fmt.Sprint(lookup(doc, field)) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func matchRange(doc map[string]any, raw any) bool {
	ranges, _ := raw.(map[string]any)
	for field, cond := range ranges {
		ops, _ := cond.(map[string]any)
		got, ok := lookup(doc, field).(string)
		if !ok {
			return false
		}
		for op, bound := range ops {
			b := fmt.Sprint(bound)
			switch op {
			case "gte":
				if got < b {
					return false
				}
			case "gt":
				if got <= b {
					return false
				}
			case "lte":
				if got > b {
					return false
				}
			case "lt":
				if got >= b {
					return false
				}
			}
		}
	}
	return true
}

func lookup(doc map[string]any, field string) any {
	var cur any = doc
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
