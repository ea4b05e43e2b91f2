// Package vector manages the Weaviate class that stores document chunks.
package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

const ClassName = "DocumentChunk"

// Property names of ClassName objects.
const (
	PropVectorID   = "vectorId"
	PropDocumentID = "documentId"
	PropSource     = "source"
	PropText       = "text"
	PropChunkIndex = "chunkIndex"
)

type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// ErrSchemaMismatch means an existing class cannot serve exact-match filters
// and has to be recreated.
var ErrSchemaMismatch = errors.New("vector schema mismatch")

// Properties lists the chunk schema. Filtered fields use field tokenization so
// an Equal filter compares the whole value: "report.pdf" must not match
// "annual report.pdf".
func Properties() []*models.Property {
	return []*models.Property{
		{Name: PropVectorID, DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField},
		{Name: PropDocumentID, DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField},
		{Name: PropSource, DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField},
		{Name: PropText, DataType: []string{"text"}},
		{Name: PropChunkIndex, DataType: []string{"int"}},
	}
}

// EnsureSchema creates the chunk class, or adds any properties an older
// deployment is missing.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassName)
	if err != nil {
		return fmt.Errorf("check class %s: %w", ClassName, err)
	}

	properties := Properties()
	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:       ClassName,
			Description: "A chunk of an ingested PDF document",
			Vectorizer:  "none",
			Properties:  properties,
		})
	}

	class, err := client.GetClass(ctx, ClassName)
	if err != nil {
		return fmt.Errorf("get class %s: %w", ClassName, err)
	}

	existing := make(map[string]*models.Property, len(class.Properties))
	for _, p := range class.Properties {
		existing[p.Name] = p
	}
	for _, p := range properties {
		if have, ok := existing[p.Name]; ok {
			if p.Tokenization != "" && have.Tokenization != p.Tokenization {
				return fmt.Errorf("%w: %s.%s has tokenization %q, want %q; drop the class and re-run vectorize",
					ErrSchemaMismatch, ClassName, p.Name, have.Tokenization, p.Tokenization)
			}
			continue
		}
		if err := client.AddProperty(ctx, ClassName, p); err != nil {
			return fmt.Errorf("add property %s: %w", p.Name, err)
		}
	}
	return nil
}
