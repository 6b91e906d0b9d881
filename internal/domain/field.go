package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

// Side identifies which profile system a record belongs to.
type Side string

const (
	// SideSource is the system fields are migrated from.
	SideSource Side = "src"
	// SideTarget is the system fields are migrated to.
	SideTarget Side = "trg"
)

// Valid reports whether the side is one of the known values.
func (s Side) Valid() bool {
	return s == SideSource || s == SideTarget
}

// ParseSide accepts the short (src/trg) and long (source/target) spellings.
func ParseSide(raw string) (Side, bool) {
	switch cases.Fold().String(strings.TrimSpace(raw)) {
	case "src", "source":
		return SideSource, true
	case "trg", "target":
		return SideTarget, true
	default:
		return "", false
	}
}

// FieldKind tags a field as built into the profile system or defined by the account.
type FieldKind string

const (
	// FieldKindSystem marks a built-in profile field.
	FieldKindSystem FieldKind = "system"
	// FieldKindCustom marks an account-defined profile field.
	FieldKindCustom FieldKind = "custom"
)

// ParseFieldKind folds case so "Custom" and "CUSTOM" are recognised.
func ParseFieldKind(raw string) (FieldKind, bool) {
	switch cases.Fold().String(strings.TrimSpace(raw)) {
	case "system":
		return FieldKindSystem, true
	case "custom":
		return FieldKindCustom, true
	default:
		return "", false
	}
}

// Field is a named attribute of a user profile on one side.
type Field struct {
	ID       int64
	Side     Side
	Name     string
	Key      string
	DataType string
	Kind     FieldKind
}

// IsCustom reports whether the field belongs in the custom_field bucket.
func (f Field) IsCustom() bool {
	return f.Kind == FieldKindCustom
}

// FieldPatch carries the subset of attributes changed by a partial update.
type FieldPatch struct {
	Name     *string
	Key      *string
	DataType *string
	Kind     *FieldKind
}

// Empty reports whether the patch changes nothing.
func (p FieldPatch) Empty() bool {
	return p.Name == nil && p.Key == nil && p.DataType == nil && p.Kind == nil
}

// FieldOption is an enumerated value belonging to a parent field on the same side.
type FieldOption struct {
	ID        int64
	Side      Side
	Label     string
	Key       string
	ParentKey string
}

// FieldOptionPatch carries the subset of option attributes changed by a partial update.
type FieldOptionPatch struct {
	Label     *string
	Key       *string
	ParentKey *string
}

// Empty reports whether the patch changes nothing.
func (p FieldOptionPatch) Empty() bool {
	return p.Label == nil && p.Key == nil && p.ParentKey == nil
}
