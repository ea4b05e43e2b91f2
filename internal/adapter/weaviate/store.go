// Package weaviate implements the vector index on a Weaviate class.
package weaviate

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"incredoc/internal/backend"
	"incredoc/internal/vector"
)

// objectNamespace seeds the deterministic object IDs derived from vector IDs.
var objectNamespace = uuid.MustParse("5b0c1f5e-7d6a-4f0e-9a51-6c1f0f3f2b8e")

// ObjectID maps a chunk's vector ID to the Weaviate object UUID, so
// re-upserting a chunk replaces the earlier object.
func ObjectID(vectorID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(objectNamespace, []byte(vectorID)).String())
}

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewSchemaAdapter(s.client))
}

// Upsert writes all records in a single batch. Any per-object failure fails
// the call.
func (s *Store) Upsert(ctx context.Context, records []backend.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(records))
	for i, r := range records {
		objects[i] = &models.Object{
			Class: vector.ClassName,
			ID:    ObjectID(r.VectorID),
			Properties: map[string]interface{}{
				vector.PropVectorID:   r.VectorID,
				vector.PropDocumentID: r.DocumentID,
				vector.PropSource:     r.Source,
				vector.PropText:       r.Text,
				vector.PropChunkIndex: r.ChunkIndex,
			},
			Vector: r.Vector,
		}
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}

	var failures []string
	for _, r := range res {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			if e != nil {
				failures = append(failures, e.Message)
			}
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("batch upsert: %d object errors: %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, k int, filter backend.Filter) ([]backend.Match, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: vector.PropVectorID},
		{Name: vector.PropDocumentID},
		{Name: vector.PropSource},
		{Name: vector.PropText},
		{Name: vector.PropChunkIndex},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	q := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(fields...)
	if filter.Source != "" {
		q = q.WithWhere(filters.Where().
			WithPath([]string{vector.PropSource}).
			WithOperator(filters.Equal).
			WithValueText(filter.Source))
	}

	res, err := q.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, graphqlError(res.Errors)
	}

	var matches []backend.Match
	for _, props := range classRows(res.Data, "Get") {
		m := backend.Match{}
		m.VectorID, _ = props[vector.PropVectorID].(string)
		m.DocumentID, _ = props[vector.PropDocumentID].(string)
		m.Source, _ = props[vector.PropSource].(string)
		m.Text, _ = props[vector.PropText].(string)
		if idx, ok := props[vector.PropChunkIndex].(float64); ok {
			m.ChunkIndex = int(idx)
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				m.Score = float32(1 - d)
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (s *Store) CountChunks(ctx context.Context) (int, error) {
	return s.count(ctx, nil)
}

func (s *Store) CountChunksBySource(ctx context.Context, source string) (int, error) {
	return s.count(ctx, filters.Where().
		WithPath([]string{vector.PropSource}).
		WithOperator(filters.Equal).
		WithValueText(source))
}

func (s *Store) count(ctx context.Context, where *filters.WhereBuilder) (int, error) {
	meta := graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}
	q := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(meta)
	if where != nil {
		q = q.WithWhere(where)
	}

	res, err := q.Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, graphqlError(res.Errors)
	}

	rows := classRows(res.Data, "Aggregate")
	if len(rows) == 0 {
		return 0, nil
	}
	if m, ok := rows[0]["meta"].(map[string]interface{}); ok {
		if c, ok := m["count"].(float64); ok {
			return int(c), nil
		}
	}
	return 0, nil
}

// classRows digs the rows of the chunk class out of a GraphQL response.
func classRows(data map[string]models.JSONObject, op string) []map[string]interface{} {
	byClass, ok := data[op].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := byClass[vector.ClassName].([]interface{})
	if !ok {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if props, ok := r.(map[string]interface{}); ok {
			rows = append(rows, props)
		}
	}
	return rows
}

func graphqlError(errs []*models.GraphQLError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return fmt.Errorf("graphql error: %s", strings.Join(msgs, "; "))
}
