package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "finitefield.org/usermapping/internal/domain"
)

// ErrUnknownParent matches any IntegrityError raised because a parent field key does not exist.
var ErrUnknownParent = errors.New("integrity: unknown parent field")

// IntegrityReason classifies why a record was refused.
type IntegrityReason string

// IntegrityUnknownParent is the only reason raised today.
const IntegrityUnknownParent IntegrityReason = "unknown_parent"

// IntegrityError reports a record whose parent field key is absent from the side's registry.
type IntegrityError struct {
	Reason    IntegrityReason
	Side      domain.Side
	ParentKey string
}

func (e *IntegrityError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("integrity: %s field %q does not exist on %s side", e.Reason, e.ParentKey, e.Side)
}

// Is lets errors.Is(err, ErrUnknownParent) match.
func (e *IntegrityError) Is(target error) bool {
	return e != nil && e.Reason == IntegrityUnknownParent && target == ErrUnknownParent
}

// FieldLookup answers whether a field key exists on a side. Implementations backed by storage
// should run inside the same transaction as the write they gate.
type FieldLookup interface {
	FieldExists(ctx context.Context, side domain.Side, key string) (bool, error)
}

// AdmitParent checks that parentKey names an existing field on side.
func AdmitParent(ctx context.Context, lookup FieldLookup, side domain.Side, parentKey string) error {
	if lookup == nil {
		return errors.New("integrity: field lookup is required")
	}
	if !side.Valid() {
		return fmt.Errorf("integrity: invalid side %q", side)
	}
	key := strings.TrimSpace(parentKey)
	if key == "" {
		return &IntegrityError{Reason: IntegrityUnknownParent, Side: side, ParentKey: parentKey}
	}
	ok, err := lookup.FieldExists(ctx, side, key)
	if err != nil {
		return err
	}
	if !ok {
		return &IntegrityError{Reason: IntegrityUnknownParent, Side: side, ParentKey: key}
	}
	return nil
}

// AdmitOptionMapping validates both parent fields of a candidate option mapping, each against its
// own side. Both sides are always checked so the caller sees every failure at once.
func AdmitOptionMapping(ctx context.Context, lookup FieldLookup, candidate domain.OptionMapping) error {
	srcErr := AdmitParent(ctx, lookup, domain.SideSource, candidate.SourceField)
	if srcErr != nil && !errors.Is(srcErr, ErrUnknownParent) {
		return srcErr
	}
	trgErr := AdmitParent(ctx, lookup, domain.SideTarget, candidate.TargetField)
	if trgErr != nil && !errors.Is(trgErr, ErrUnknownParent) {
		return trgErr
	}
	return errors.Join(srcErr, trgErr)
}

// FieldSet is an in-memory FieldLookup built from a registry snapshot.
type FieldSet map[domain.Side]map[string]struct{}

// NewFieldSet indexes fields by side and key.
func NewFieldSet(fields ...domain.Field) FieldSet {
	set := FieldSet{}
	for _, field := range fields {
		if !field.Side.Valid() {
			continue
		}
		keys, ok := set[field.Side]
		if !ok {
			keys = make(map[string]struct{})
			set[field.Side] = keys
		}
		keys[field.Key] = struct{}{}
	}
	return set
}

// FieldExists implements FieldLookup.
func (s FieldSet) FieldExists(_ context.Context, side domain.Side, key string) (bool, error) {
	_, ok := s[side][key]
	return ok, nil
}
