package opensearch

import "auditlog/config"

// IndexMapping returns the create-index body for the audit index.
func IndexMapping(cfg config.ElasticConfig) map[string]any {
	date := map[string]any{"type": "date", "format": cfg.DateFormat}
	keyword := map[string]any{"type": "keyword"}
	values := map[string]any{
		"properties": map[string]any{
			"created_at": date,
			"updated_at": date,
			"deleted_at": date,
		},
	}

	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   cfg.Shards,
			"number_of_replicas": cfg.Replicas,
		},
		"mappings": map[string]any{
			"_meta": map[string]any{"type": cfg.Type},
			"properties": map[string]any{
				"event":          keyword,
				"auditable_id":   keyword,
				"auditable_type": keyword,
				"user_id":        keyword,
				"user_type":      keyword,
				"ip_address":     keyword,
				"url":            keyword,
				"user_agent":     keyword,
				"created_at":     date,
				"updated_at":     date,
				"new_values":     values,
				"old_values":     values,
			},
		},
	}
}
