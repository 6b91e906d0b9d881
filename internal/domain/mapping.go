package domain

// FieldMapping declares that a source field corresponds to a target field.
type FieldMapping struct {
	ID             int64
	SourceFieldKey string
	TargetFieldKey string
}

// FieldMappingPatch carries the subset of field mapping attributes changed by a partial update.
type FieldMappingPatch struct {
	SourceFieldKey *string
	TargetFieldKey *string
}

// Empty reports whether the patch changes nothing.
func (p FieldMappingPatch) Empty() bool {
	return p.SourceFieldKey == nil && p.TargetFieldKey == nil
}

// OptionMapping declares that an option value of SourceField corresponds to an option value of TargetField.
type OptionMapping struct {
	ID             int64
	SourceValueKey string
	TargetValueKey string
	SourceField    string
	TargetField    string
}

// OptionMappingPatch carries the subset of option mapping attributes changed by a partial update.
type OptionMappingPatch struct {
	SourceValueKey *string
	TargetValueKey *string
	SourceField    *string
	TargetField    *string
}

// Empty reports whether the patch changes nothing.
func (p OptionMappingPatch) Empty() bool {
	return p.SourceValueKey == nil && p.TargetValueKey == nil && p.SourceField == nil && p.TargetField == nil
}

// Apply returns a copy of m with the patch applied.
func (p OptionMappingPatch) Apply(m OptionMapping) OptionMapping {
	if p.SourceValueKey != nil {
		m.SourceValueKey = *p.SourceValueKey
	}
	if p.TargetValueKey != nil {
		m.TargetValueKey = *p.TargetValueKey
	}
	if p.SourceField != nil {
		m.SourceField = *p.SourceField
	}
	if p.TargetField != nil {
		m.TargetField = *p.TargetField
	}
	return m
}

// MappingSheetRow is one row of the flattened tabular export.
type MappingSheetRow struct {
	SourceFieldKey string
	SourceName     string
	SourceDataType string
	TargetFieldKey string
	TargetName     string
	TargetDataType string
}

// MappingSnapshot is a consistent read of every relation the compiler consumes.
type MappingSnapshot struct {
	FieldMappings  []FieldMapping
	OptionMappings []OptionMapping
	SourceFields   []Field
}
