package services

import (
	domain "finitefield.org/usermapping/internal/domain"
)

// CompileResult carries the compiled document plus diagnostics about inputs the document
// could not fully honour.
type CompileResult struct {
	Document domain.CompiledDocument
	// Unresolved lists source field keys referenced by field mappings but absent from the
	// registry snapshot. Those pairs are still placed in the top-level field_map.
	Unresolved []string
	// Shadowed lists option mappings whose source value key collides with destination_id.
	// They are left out of the bucket; the Node service let them overwrite destination_id.
	Shadowed []domain.OptionMapping
}

// Compile folds the relations into the nested translation document.
func Compile(fieldMappings []domain.FieldMapping, optionMappings []domain.OptionMapping, sourceFields []domain.Field) domain.CompiledDocument {
	return CompileMappings(domain.MappingSnapshot{
		FieldMappings:  fieldMappings,
		OptionMappings: optionMappings,
		SourceFields:   sourceFields,
	}).Document
}

// CompileMappings is a pure fold over the snapshot; it never fails and reads nothing else.
func CompileMappings(snapshot domain.MappingSnapshot) CompileResult {
	kinds := make(map[string]domain.FieldKind, len(snapshot.SourceFields))
	for _, field := range snapshot.SourceFields {
		if field.Side != "" && field.Side != domain.SideSource {
			continue
		}
		if _, seen := kinds[field.Key]; !seen {
			kinds[field.Key] = field.Kind
		}
	}

	var result CompileResult
	fieldMap := &result.Document.User.FieldMap
	unresolved := make(map[string]struct{})

	for _, mapping := range snapshot.FieldMappings {
		kind, ok := kinds[mapping.SourceFieldKey]
		if !ok {
			if _, dup := unresolved[mapping.SourceFieldKey]; !dup {
				unresolved[mapping.SourceFieldKey] = struct{}{}
				result.Unresolved = append(result.Unresolved, mapping.SourceFieldKey)
			}
		}
		if kind == domain.FieldKindCustom {
			fieldMap.SetCustom(mapping.SourceFieldKey, mapping.TargetFieldKey)
			continue
		}
		fieldMap.Fields.Set(mapping.SourceFieldKey, mapping.TargetFieldKey)
	}

	translations := &result.Document.User.TranslationMap
	for _, mapping := range snapshot.OptionMappings {
		bucket, _ := translations.Ensure(mapping.SourceField, mapping.TargetField)
		if mapping.SourceValueKey == domain.DestinationIDKey {
			result.Shadowed = append(result.Shadowed, mapping)
			continue
		}
		bucket.Values.Set(mapping.SourceValueKey, mapping.TargetValueKey)
	}

	return result
}
