package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
)

// weaviateBatchSize bounds the objects sent per batch request.
const weaviateBatchSize = 200

// recordNamespace derives object UUIDs from record ids.
var recordNamespace = uuid.MustParse("8f0d3c3e-5b7a-4c1e-9a55-0f1f6a1d2b60")

// WeaviateConfig configures the Weaviate knowledge index.
type WeaviateConfig struct {
	URL        string // e.g. http://localhost:8080
	APIKey     string
	Class      string
	Vectorizer string // e.g. text2vec-ollama
	EmbedURL   string // Ollama endpoint as seen from Weaviate
	EmbedModel string
}

// WeaviateIndex is a knowledge index backed by Weaviate. Embeddings are
// produced server-side by the class vectorizer.
type WeaviateIndex struct {
	client *weaviate.Client
	class  string
}

// NewWeaviateIndex connects to Weaviate and creates the class if missing.
func NewWeaviateIndex(ctx context.Context, cfg WeaviateConfig) (*WeaviateIndex, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", cfg.URL)
	}
	wcfg := weaviate.Config{
		Host:   u.Host,
		Scheme: u.Scheme,
	}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
		wcfg.Headers = map[string]string{
			"X-Weaviate-Api-Key":     cfg.APIKey,
			"X-Weaviate-Cluster-Url": fmt.Sprintf("%s://%s", u.Scheme, u.Host),
		}
	}

	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	idx := &WeaviateIndex{client: client, class: cfg.Class}
	if err := idx.ensureClass(ctx, cfg); err != nil {
		return nil, err
	}
	return idx, nil
}

func (w *WeaviateIndex) ensureClass(ctx context.Context, cfg WeaviateConfig) error {
	schema, err := w.client.Schema().Getter().Do(ctx)
	if err != nil {
		return fmt.Errorf("get weaviate schema: %w", err)
	}
	for _, c := range schema.Classes {
		if c.Class == w.class {
			return nil
		}
	}

	if err := w.client.Schema().ClassCreator().WithClass(knowledgeClass(cfg)).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", w.class, err)
	}
	return nil
}

func knowledgeClass(cfg WeaviateConfig) *models.Class {
	class := &models.Class{
		Class: cfg.Class,
		Properties: []*models.Property{
			{Name: "recordId", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
		},
		VectorIndexType: "hnsw",
		Vectorizer:      cfg.Vectorizer,
	}
	if cfg.Vectorizer == "text2vec-ollama" {
		class.ModuleConfig = map[string]interface{}{
			"text2vec-ollama": map[string]interface{}{
				"apiEndpoint": cfg.EmbedURL,
				"model":       cfg.EmbedModel,
			},
		}
	}
	return class
}

// ObjectID maps a record id to its deterministic Weaviate object UUID.
func ObjectID(recordID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(recordNamespace, []byte(recordID)).String())
}

// Upsert writes records in batches. Objects with an existing UUID are replaced.
func (w *WeaviateIndex) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	for start := 0; start < len(records); start += weaviateBatchSize {
		end := start + weaviateBatchSize
		if end > len(records) {
			end = len(records)
		}

		batcher := w.client.Batch().ObjectsBatcher()
		for _, r := range records[start:end] {
			batcher = batcher.WithObjects(&models.Object{
				Class: w.class,
				ID:    ObjectID(r.ID),
				Properties: map[string]interface{}{
					"recordId": r.ID,
					"content":  r.Text,
				},
			})
		}

		resp, err := batcher.Do(ctx)
		if err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
		if msg := batchErrors(resp); msg != "" {
			return fmt.Errorf("upsert batch %d-%d: %s", start, end, msg)
		}
	}
	return nil
}

func batchErrors(resp []models.ObjectsGetResponse) string {
	var msgs []string
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
	}
	return strings.Join(msgs, "; ")
}

// Query runs a nearText search.
func (w *WeaviateIndex) Query(ctx context.Context, text string, k int) ([]domain.ScoredText, error) {
	nearText := w.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{text})

	result, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(
			graphql.Field{Name: "recordId"},
			graphql.Field{Name: "content"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}, {Name: "id"}}},
		).
		WithNearText(nearText).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("near text query: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("near text query: %s", result.Errors[0].Message)
	}
	return parseHits(result.Data, w.class), nil
}

// Count returns the object count of the class.
func (w *WeaviateIndex) Count(ctx context.Context) (int, error) {
	result, err := w.client.GraphQL().Aggregate().
		WithClassName(w.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("aggregate count: %w", err)
	}
	if len(result.Errors) > 0 {
		return 0, fmt.Errorf("aggregate count: %s", result.Errors[0].Message)
	}
	return parseCount(result.Data, w.class), nil
}

// Ping checks that the server is ready.
func (w *WeaviateIndex) Ping(ctx context.Context) error {
	ready, err := w.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("weaviate not ready")
	}
	return nil
}

func parseHits(data map[string]models.JSONObject, class string) []domain.ScoredText {
	hits := []domain.ScoredText{}
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return hits
	}
	items, ok := get[class].([]interface{})
	if !ok {
		return hits
	}
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		hit := domain.ScoredText{}
		hit.ID, _ = obj["recordId"].(string)
		hit.Text, _ = obj["content"].(string)
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				hit.Score = 1 - d
			}
			if hit.ID == "" {
				hit.ID, _ = additional["id"].(string)
			}
		}
		hits = append(hits, hit)
	}
	return hits
}

func parseCount(data map[string]models.JSONObject, class string) int {
	agg, ok := data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0
	}
	items, ok := agg[class].([]interface{})
	if !ok || len(items) == 0 {
		return 0
	}
	first, ok := items[0].(map[string]interface{})
	if !ok {
		return 0
	}
	meta, ok := first["meta"].(map[string]interface{})
	if !ok {
		return 0
	}
	n, _ := meta["count"].(float64)
	return int(n)
}
