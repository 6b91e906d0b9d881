package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "finitefield.org/usermapping/internal/domain"
)

type failingLookup struct{ err error }

func (f failingLookup) FieldExists(context.Context, domain.Side, string) (bool, error) {
	return false, f.err
}

func TestAdmitOptionMapping(t *testing.T) {
	registry := NewFieldSet(
		domain.Field{Side: domain.SideSource, Key: "tier"},
		domain.Field{Side: domain.SideTarget, Key: "plan"},
	)
	ctx := context.Background()

	tests := []struct {
		name      string
		candidate domain.OptionMapping
		wantErr   bool
		wantSides []domain.Side
	}{
		{
			name:      "both parents exist",
			candidate: domain.OptionMapping{SourceField: "tier", TargetField: "plan"},
		},
		{
			name:      "missing source parent",
			candidate: domain.OptionMapping{SourceField: "nope", TargetField: "plan"},
			wantErr:   true,
			wantSides: []domain.Side{domain.SideSource},
		},
		{
			name:      "missing target parent",
			candidate: domain.OptionMapping{SourceField: "tier", TargetField: "nope"},
			wantErr:   true,
			wantSides: []domain.Side{domain.SideTarget},
		},
		{
			name:      "keys checked against their own side",
			candidate: domain.OptionMapping{SourceField: "plan", TargetField: "tier"},
			wantErr:   true,
			wantSides: []domain.Side{domain.SideSource, domain.SideTarget},
		},
		{
			name:      "empty parent",
			candidate: domain.OptionMapping{SourceField: " ", TargetField: "plan"},
			wantErr:   true,
			wantSides: []domain.Side{domain.SideSource},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := AdmitOptionMapping(ctx, registry, tc.candidate)
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrUnknownParent) {
				t.Fatalf("expected ErrUnknownParent, got %v", err)
			}
			for _, side := range tc.wantSides {
				if !strings.Contains(err.Error(), string(side)+" side") {
					t.Fatalf("expected %s side in %q", side, err.Error())
				}
			}
			var integrityErr *IntegrityError
			if !errors.As(err, &integrityErr) || integrityErr.Reason != IntegrityUnknownParent {
				t.Fatalf("expected IntegrityError, got %T", err)
			}
		})
	}
}

func TestAdmitParentPropagatesLookupFailure(t *testing.T) {
	boom := errors.New("db down")
	err := AdmitParent(context.Background(), failingLookup{err: boom}, domain.SideSource, "tier")
	if !errors.Is(err, boom) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	if errors.Is(err, ErrUnknownParent) {
		t.Fatalf("lookup failures must not look like unknown parents")
	}
}

func TestAdmitParentRejectsInvalidSide(t *testing.T) {
	err := AdmitParent(context.Background(), NewFieldSet(), domain.Side("both"), "tier")
	if err == nil || errors.Is(err, ErrUnknownParent) {
		t.Fatalf("expected invalid side error, got %v", err)
	}
}
