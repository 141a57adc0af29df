package domain

import (
	"fmt"
	"strings"
)

// FieldType is the data type of an index field.
type FieldType string

// Supported field types.
const (
	FieldTypeString FieldType = "string"
	FieldTypeText   FieldType = "text"
	FieldTypeVector FieldType = "vector"
)

// SimilarityMetric is the vector similarity function of an index.
type SimilarityMetric string

// MetricCosine is the only metric the pipeline ranks with.
const MetricCosine SimilarityMetric = "cosine"

// FieldSpec describes one field in an index schema.
type FieldSpec struct {
	Name       string
	Type       FieldType
	Key        bool
	Searchable bool
	// Dimensions is set for vector fields only.
	Dimensions int
}

// HNSWConfig tunes the approximate-nearest-neighbour graph.
type HNSWConfig struct {
	// M is the number of bi-directional links per node.
	M int
	// EfConstruction is the candidate list size while building.
	EfConstruction int
	// EfSearch is the candidate list size while querying.
	EfSearch int
}

// IndexSchema is the persisted shape of a search index.
type IndexSchema struct {
	// Name is the index name, usually derived per namespace.
	Name string

	// Fields lists the index fields. At least id, content and vector.
	Fields []FieldSpec

	// Dimensions is the embedding length D.
	Dimensions int

	// Metric is the vector similarity metric.
	Metric SimilarityMetric

	// HNSW tunes the vector graph where the backend has one.
	HNSW HNSWConfig
}

// Standard field names.
const (
	FieldID           = "id"
	FieldParentID     = "parent_id"
	FieldContent      = "content"
	FieldLanguageCode = "language_code"
	FieldVector       = "vector"
)

// IndexName derives the per-namespace index name.
// An empty namespace yields the bare base name.
func IndexName(base, namespace string) string {
	namespace = strings.ToLower(strings.TrimSpace(namespace))
	if namespace == "" {
		return base
	}
	return base + "_" + namespace
}

// DefaultIndexSchema returns the standard chunk index schema.
func DefaultIndexSchema(name string, dimensions int) IndexSchema {
	return IndexSchema{
		Name: name,
		Fields: []FieldSpec{
			{Name: FieldID, Type: FieldTypeString, Key: true},
			{Name: FieldParentID, Type: FieldTypeString},
			{Name: FieldContent, Type: FieldTypeText, Searchable: true},
			{Name: FieldLanguageCode, Type: FieldTypeString},
			{Name: FieldVector, Type: FieldTypeVector, Searchable: true, Dimensions: dimensions},
		},
		Dimensions: dimensions,
		Metric:     MetricCosine,
		HNSW: HNSWConfig{
			M:              16,
			EfConstruction: 64,
			EfSearch:       40,
		},
	}
}

// Validate checks that the schema is usable.
func (s IndexSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: index name is empty", ErrConfig)
	}
	if s.Dimensions <= 0 {
		return fmt.Errorf("%w: index dimensions must be positive, got %d", ErrConfig, s.Dimensions)
	}
	if s.key() == "" {
		return fmt.Errorf("%w: index %s has no key field", ErrConfig, s.Name)
	}
	if _, ok := s.Field(FieldContent); !ok {
		return fmt.Errorf("%w: index %s has no %s field", ErrConfig, s.Name, FieldContent)
	}
	vec, ok := s.Field(FieldVector)
	if !ok {
		return fmt.Errorf("%w: index %s has no %s field", ErrConfig, s.Name, FieldVector)
	}
	if vec.Dimensions != s.Dimensions {
		return fmt.Errorf("%w: vector field has %d dimensions, schema has %d",
			ErrConfig, vec.Dimensions, s.Dimensions)
	}
	return nil
}

// Field returns the named field.
func (s IndexSchema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

func (s IndexSchema) key() string {
	for _, f := range s.Fields {
		if f.Key {
			return f.Name
		}
	}
	return ""
}

// Compatible reports whether next can be applied on top of s without
// destroying data. Fields may be added; existing fields, the key, the
// dimensions and the metric must not change.
func (s IndexSchema) Compatible(next IndexSchema) error {
	if s.Dimensions != next.Dimensions {
		return fmt.Errorf("dimensions %d -> %d", s.Dimensions, next.Dimensions)
	}
	if s.Metric != next.Metric {
		return fmt.Errorf("metric %s -> %s", s.Metric, next.Metric)
	}
	if s.key() != next.key() {
		return fmt.Errorf("key %s -> %s", s.key(), next.key())
	}
	for _, old := range s.Fields {
		f, ok := next.Field(old.Name)
		if !ok {
			return fmt.Errorf("field %s removed", old.Name)
		}
		if f != old {
			return fmt.Errorf("field %s changed", old.Name)
		}
	}
	return nil
}

// SchemaOptions controls CreateOrUpdateSchema behaviour.
type SchemaOptions struct {
	// AllowRecreate permits an explicit destroy-and-recreate when the
	// existing schema is incompatible. Without it the change is rejected.
	AllowRecreate bool
}

// SchemaAction reports what CreateOrUpdateSchema did.
type SchemaAction string

// Schema actions.
const (
	SchemaCreated   SchemaAction = "created"
	SchemaUpdated   SchemaAction = "updated"
	SchemaUnchanged SchemaAction = "unchanged"
	SchemaRecreated SchemaAction = "recreated"
)

// UpsertResult counts the outcome of an upsert call.
type UpsertResult struct {
	Accepted int
	Rejected int
	// Errors lists per-chunk failures for rejected chunks.
	Errors []ItemError
}

// Add merges another result into r.
func (r *UpsertResult) Add(other UpsertResult) {
	r.Accepted += other.Accepted
	r.Rejected += other.Rejected
	r.Errors = append(r.Errors, other.Errors...)
}

// IndexStats summarises an index.
type IndexStats struct {
	Name       string
	Chunks     int
	Parents    int
	Dimensions int
}

// PlanSchemaChange decides what CreateOrUpdateSchema must do to move from
// existing (nil when the index is missing) to next. An incompatible change
// without opts.AllowRecreate is rejected with ErrSchemaConflict.
func PlanSchemaChange(existing *IndexSchema, next IndexSchema, opts SchemaOptions) (SchemaAction, error) {
	if err := next.Validate(); err != nil {
		return "", err
	}
	if existing == nil {
		return SchemaCreated, nil
	}
	if err := existing.Compatible(next); err != nil {
		if opts.AllowRecreate {
			return SchemaRecreated, nil
		}
		return "", fmt.Errorf("%w: index %s: %v", ErrSchemaConflict, next.Name, err)
	}
	if len(existing.Fields) == len(next.Fields) && existing.HNSW == next.HNSW {
		return SchemaUnchanged, nil
	}
	return SchemaUpdated, nil
}
