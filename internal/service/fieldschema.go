package service

import "strings"

// FieldSchema answers whether a field of an entity type is open to
// student-proposed changes.
type FieldSchema interface {
	IsEditable(entityType, fieldName string) bool
}

// ConfigFieldSchema is a FieldSchema backed by a configured allow-list of
// "entity.field" pairs.
type ConfigFieldSchema struct {
	editable map[string]struct{}
}

// NewConfigFieldSchema builds the schema from configured pairs. Entries that
// do not look like "entity.field" are ignored.
func NewConfigFieldSchema(pairs []string) *ConfigFieldSchema {
	editable := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		pair = strings.ToLower(strings.TrimSpace(pair))
		if entity, field, ok := strings.Cut(pair, "."); ok && entity != "" && field != "" {
			editable[entity+"."+field] = struct{}{}
		}
	}
	return &ConfigFieldSchema{editable: editable}
}

// IsEditable implements FieldSchema.
func (s *ConfigFieldSchema) IsEditable(entityType, fieldName string) bool {
	key := strings.ToLower(strings.TrimSpace(entityType)) + "." + strings.ToLower(strings.TrimSpace(fieldName))
	_, ok := s.editable[key]
	return ok
}
