package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"auditlog/config"
	"auditlog/metrics"
	"auditlog/models"
	"auditlog/opensearch"
	"auditlog/queue"
)

const (
	defaultPageSize = 10000
	defaultLogSize  = 10
	pruneBatchSize  = 10000
)

// Options configures a Service.
type Options struct {
	Elastic  config.ElasticConfig
	Queue    config.QueueConfig
	Enqueuer queue.Enqueuer
	Metrics  *metrics.Metrics
}

// Service indexes audit documents and reads, deletes and prunes them.
type Service struct {
	cfg      config.ElasticConfig
	queueCfg config.QueueConfig
	enqueuer queue.Enqueuer
	metrics  *metrics.Metrics

	exec opensearch.Executor
	// sync is used where an immediate result is required even for an async client.
	sync opensearch.Executor
	now  func() time.Time
}

func NewService(exec opensearch.Executor, opts Options) *Service {
	return &Service{
		cfg:      opts.Elastic,
		queueCfg: opts.Queue,
		enqueuer: opts.Enqueuer,
		metrics:  opts.Metrics,
		exec:     exec,
		sync:     opensearch.Blocking(exec),
		now:      time.Now,
	}
}

// IsAsync reports whether the underlying client dispatches requests in the background.
func (s *Service) IsAsync() bool {
	return s.exec.IsAsync()
}

// IndexName is the name of the audit index.
func (s *Service) IndexName() string {
	return s.cfg.Index
}

// Threshold is the configured number of entries kept per record.
func (s *Service) Threshold() int {
	return s.cfg.Threshold
}

// Audit indexes a change event and then prunes the record's trail down to
// the configured threshold. Pruning only follows an inline, blocking write;
// queued and background writes are not visible yet.
func (s *Service) Audit(ctx context.Context, event models.AuditEvent, shouldReturnResult bool) (IndexResult, error) {
	res, err := s.IndexDocument(ctx, event.Body(), shouldReturnResult)
	if err != nil || res.Queued || s.exec.IsAsync() {
		return res, err
	}

	record := models.Record{ID: event.AuditableID, Type: event.AuditableType, Threshold: s.cfg.Threshold}
	if _, err := s.Prune(ctx, record, false); err != nil {
		slog.Error("failed to prune audit trail",
			"auditable_id", record.ID,
			"auditable_type", record.Type,
			"error", err)
	}
	return res, nil
}

// IndexDocument wraps body in a new audit document and either queues it or
// indexes it inline. Inline, the acknowledgement is only read when
// shouldReturnResult is set.
func (s *Service) IndexDocument(ctx context.Context, body map[string]any, shouldReturnResult bool) (IndexResult, error) {
	doc := models.NewAuditDocument(s.cfg.Index, s.cfg.Type, body, s.now())

	if s.queueCfg.QueueActive() {
		if s.enqueuer == nil {
			return IndexResult{}, fmt.Errorf("failed to queue audit document: no queue connection available")
		}
		if err := s.enqueuer.Enqueue(ctx, queue.Job{Document: doc}, s.queueCfg.Name, s.queueCfg.Connection); err != nil {
			return IndexResult{}, err
		}
		s.countIndexed("queued", 1)
		return IndexResult{ID: doc.ID, Queued: true}, nil
	}

	ack, err := s.index(ctx, doc, shouldReturnResult)
	if err != nil {
		return IndexResult{}, err
	}
	return IndexResult{ID: doc.ID, Acknowledged: ack}, nil
}

func (s *Service) index(ctx context.Context, doc models.AuditDocument, shouldReturnResult bool) (bool, error) {
	body, err := encode(doc.Body)
	if err != nil {
		return false, err
	}
	f := s.exec.Execute(ctx, opensearchapi.IndexRequest{
		Index:      doc.Index,
		DocumentID: doc.ID,
		Body:       body,
		Refresh:    s.cfg.Refresh,
	})
	s.countIndexed("sync", 1)

	if !shouldReturnResult {
		if f.Deferred() {
			go func() {
				if _, err := f.Wait(context.Background()); err != nil {
					slog.Error("background index request failed", "document_id", doc.ID, "error", err)
				}
			}()
			return false, nil
		}
		if _, err := f.Wait(ctx); err != nil {
			return false, fmt.Errorf("failed to index audit document: %w", err)
		}
		return false, nil
	}

	res, err := opensearch.Await(ctx, f)
	if err != nil {
		return false, fmt.Errorf("failed to index audit document: %w", err)
	}
	return res.Acknowledged(), nil
}

// IndexDocuments writes already built documents, as taken off a queue.
func (s *Service) IndexDocuments(ctx context.Context, docs []models.AuditDocument) error {
	switch len(docs) {
	case 0:
		return nil
	case 1:
		body, err := encode(docs[0].Body)
		if err != nil {
			return err
		}
		_, err = opensearch.Await(ctx, s.sync.Execute(ctx, opensearchapi.IndexRequest{
			Index:      docs[0].Index,
			DocumentID: docs[0].ID,
			Body:       body,
			Refresh:    s.cfg.Refresh,
		}))
		if err != nil {
			return fmt.Errorf("failed to index audit document %s: %w", docs[0].ID, err)
		}
		s.countIndexed("worker", 1)
		return nil
	}

	var buf bytes.Buffer
	skipped := 0
	for _, doc := range docs {
		meta, err := json.Marshal(map[string]any{"index": map[string]any{"_index": doc.Index, "_id": doc.ID}})
		if err != nil {
			return fmt.Errorf("failed to encode bulk metadata: %w", err)
		}
		data, err := json.Marshal(doc.Body)
		if err != nil {
			slog.Error("failed to marshal document for bulk indexing", "document_id", doc.ID, "error", err)
			skipped++
			continue
		}
		buf.Grow(len(meta) + len(data) + 2)
		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(data)
		buf.WriteByte('\n')
	}

	if skipped == len(docs) {
		return fmt.Errorf("failed to encode any of %d documents for bulk indexing", len(docs))
	}
	sent := len(docs) - skipped

	res, err := opensearch.Await(ctx, s.sync.Execute(ctx, opensearchapi.BulkRequest{
		Body:    &buf,
		Refresh: s.cfg.Refresh,
	}))
	if err != nil {
		return fmt.Errorf("failed to perform bulk request: %w", err)
	}

	var out bulkResponse
	if err := res.Decode(&out); err != nil {
		return err
	}
	if out.Errors {
		failed := 0
		var first string
		for _, item := range out.Items {
			for _, r := range item {
				if r.Status >= 300 {
					failed++
					if first == "" {
						first = string(r.Error)
					}
				}
			}
		}
		s.countIndexed("worker", sent-failed)
		return fmt.Errorf("bulk indexing failed for %d of %d documents: %s", failed+skipped, len(docs), first)
	}
	s.countIndexed("worker", sent)
	if skipped > 0 {
		return fmt.Errorf("failed to encode %d of %d documents for bulk indexing", skipped, len(docs))
	}
	return nil
}

// PageRequest selects a page of a record's audit trail. A zero Size means
// 10000, a nil From means the record's threshold minus one (never below
// zero) and an empty Sort means desc.
type PageRequest struct {
	Size int
	From *int
	Sort string
}

// SearchAuditDocument returns the audit entries of record ordered by created_at.
func (s *Service) SearchAuditDocument(ctx context.Context, record models.Auditable, page PageRequest) (*SearchResponse, error) {
	size := page.Size
	if size <= 0 {
		size = defaultPageSize
	}
	from := max(record.AuditThreshold()-1, 0)
	if page.From != nil {
		from = max(*page.From, 0)
	}
	order := page.Sort
	if order == "" {
		order = "desc"
	}

	q := recordQuery(record).
		WithPage(size, from).
		WithSort("created_at", order)
	return s.Search(ctx, q)
}

// AuditLog returns one page of record's audit entries. Pages start at 1.
func (s *Service) AuditLog(ctx context.Context, record models.Auditable, page, pageSize int, sort string) ([]Hit, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultLogSize
	}
	from := (page - 1) * pageSize

	res, err := s.SearchAuditDocument(ctx, record, PageRequest{Size: pageSize, From: &from, Sort: sort})
	if err != nil {
		return nil, err
	}
	return res.Hits.Hits, nil
}

// Search runs q against the audit index.
func (s *Service) Search(ctx context.Context, q models.Query) (*SearchResponse, error) {
	body, err := encode(q.Body())
	if err != nil {
		return nil, err
	}
	res, err := opensearch.Await(ctx, s.exec.Execute(ctx, opensearchapi.SearchRequest{
		Index: []string{s.cfg.Index},
		Body:  body,
	}))
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}

	var out SearchResponse
	if err := res.Decode(&out); err != nil {
		return nil, err
	}
	out.Raw = res.Body
	return &out, nil
}

// Count returns the number of entries matching q.
func (s *Service) Count(ctx context.Context, q models.Query) (int64, error) {
	body, err := encode(q.CountBody())
	if err != nil {
		return 0, err
	}
	res, err := opensearch.Await(ctx, s.exec.Execute(ctx, opensearchapi.CountRequest{
		Index: []string{s.cfg.Index},
		Body:  body,
	}))
	if err != nil {
		return 0, fmt.Errorf("count request failed: %w", err)
	}

	var out countResponse
	if err := res.Decode(&out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// DeleteAuditDocument deletes one document by id.
func (s *Service) DeleteAuditDocument(ctx context.Context, id string, shouldReturnResult bool) (bool, error) {
	return s.deleteDocument(ctx, s.exec, id, shouldReturnResult)
}

func (s *Service) deleteDocument(ctx context.Context, exec opensearch.Executor, id string, shouldReturnResult bool) (bool, error) {
	f := exec.Execute(ctx, opensearchapi.DeleteRequest{
		Index:      s.cfg.Index,
		DocumentID: id,
		Refresh:    s.cfg.Refresh,
	})
	if !shouldReturnResult && f.Deferred() {
		return false, nil
	}
	res, err := opensearch.Await(ctx, f)
	if err != nil {
		return false, fmt.Errorf("failed to delete audit document %s: %w", id, err)
	}
	return shouldReturnResult && res.Acknowledged(), nil
}

// DeleteIndex drops the audit index.
func (s *Service) DeleteIndex(ctx context.Context) (bool, error) {
	res, err := opensearch.Await(ctx, s.sync.Execute(ctx, opensearchapi.IndicesDeleteRequest{
		Index: []string{s.cfg.Index},
	}))
	if err != nil {
		return false, fmt.Errorf("failed to delete index %s: %w", s.cfg.Index, err)
	}
	slog.Info("index deleted", "index", s.cfg.Index)
	return res.Acknowledged(), nil
}

// IndexExists reports whether the audit index is present.
func (s *Service) IndexExists(ctx context.Context) (bool, error) {
	_, err := opensearch.Await(ctx, s.sync.Execute(ctx, opensearchapi.IndicesExistsRequest{
		Index: []string{s.cfg.Index},
	}))
	if opensearch.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check if index exists: %w", err)
	}
	return true, nil
}

// CreateIndex creates the audit index with its mapping and the <index>_write
// alias unless the index already exists. It returns the index name.
func (s *Service) CreateIndex(ctx context.Context) (string, error) {
	exists, err := s.IndexExists(ctx)
	if err != nil {
		return "", err
	}
	if exists {
		slog.Info("index already exists", "index", s.cfg.Index)
		return s.cfg.Index, nil
	}

	slog.Info("index not found, creating it", "index", s.cfg.Index)
	mapping, err := encode(opensearch.IndexMapping(s.cfg))
	if err != nil {
		return "", err
	}
	if _, err := opensearch.Await(ctx, s.sync.Execute(ctx, opensearchapi.IndicesCreateRequest{
		Index: s.cfg.Index,
		Body:  mapping,
	})); err != nil {
		return "", fmt.Errorf("failed to create index: %w", err)
	}

	alias := s.cfg.Index + "_write"
	actions, err := encode(map[string]any{
		"actions": []any{
			map[string]any{"add": map[string]any{"index": s.cfg.Index, "alias": alias}},
		},
	})
	if err != nil {
		return "", err
	}
	if _, err := opensearch.Await(ctx, s.sync.Execute(ctx, opensearchapi.IndicesUpdateAliasesRequest{
		Body: actions,
	})); err != nil {
		return "", fmt.Errorf("failed to add alias %s: %w", alias, err)
	}

	slog.Info("index created successfully", "index", s.cfg.Index, "alias", alias)
	return s.cfg.Index, nil
}

// Prune deletes the entries of record beyond its audit threshold, newest
// kept. A threshold of zero or less keeps everything and returns false.
func (s *Service) Prune(ctx context.Context, record models.Auditable, shouldReturnResult bool) (bool, error) {
	threshold := record.AuditThreshold()
	if threshold <= 0 {
		return false, nil
	}

	body, err := encode(recordQuery(record).
		WithPage(pruneBatchSize, threshold).
		WithSort("created_at", "desc").
		Body())
	if err != nil {
		return false, err
	}
	res, err := opensearch.Await(ctx, s.sync.Execute(ctx, opensearchapi.SearchRequest{
		Index: []string{s.cfg.Index},
		Body:  body,
	}))
	if err != nil {
		return false, fmt.Errorf("failed to list entries to prune: %w", err)
	}
	var stale SearchResponse
	if err := res.Decode(&stale); err != nil {
		return false, err
	}

	ok := true
	var errs []error
	for _, hit := range stale.Hits.Hits {
		deleted, err := s.deleteDocument(ctx, s.sync, hit.ID, true)
		if err != nil {
			errs = append(errs, err)
		}
		ok = ok && deleted
	}
	if err := errors.Join(errs...); err != nil {
		return false, err
	}

	slog.Info("pruned audit entries",
		"auditable_id", record.AuditableID(),
		"auditable_type", record.MorphType(),
		"deleted", len(stale.Hits.Hits))
	return shouldReturnResult && ok, nil
}

func recordQuery(record models.Auditable) models.Query {
	return models.NewQuery().
		WithRequiredTerm("auditable_id", record.AuditableID()).
		WithRequiredTerm("auditable_type", record.MorphType())
}

func (s *Service) countIndexed(mode string, n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.DocumentsIndexed.WithLabelValues(mode).Add(float64(n))
	}
}

func encode(v any) (io.Reader, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return &buf, nil
}
