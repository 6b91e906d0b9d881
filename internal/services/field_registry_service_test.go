package services

import (
	"context"
	"errors"
	"testing"

	domain "finitefield.org/usermapping/internal/domain"
)

func newTestFieldRegistry(t *testing.T, store *memoryStore) (FieldRegistryService, *eventRecorder) {
	t.Helper()
	events := &eventRecorder{}
	svc, err := NewFieldRegistryService(FieldRegistryServiceDeps{
		Fields:     store.Fields(),
		Options:    store.Options(),
		UnitOfWork: store,
		Logger:     events.log,
	})
	if err != nil {
		t.Fatalf("NewFieldRegistryService: %v", err)
	}
	return svc, events
}

func TestFieldRegistryCreateFieldNormalisesKind(t *testing.T) {
	store := newMemoryStore()
	svc, events := newTestFieldRegistry(t, store)
	ctx := context.Background()

	field, err := svc.CreateField(ctx, CreateFieldCommand{Side: domain.SideSource, Name: " Plan ", Key: " plan ", DataType: "dropdown", Kind: "CUSTOM"})
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	if field.Key != "plan" || field.Name != "Plan" || field.Kind != domain.FieldKindCustom {
		t.Fatalf("unexpected field %#v", field)
	}
	if _, ok := events.find("field.created"); !ok {
		t.Fatalf("expected field.created event")
	}

	plain, err := svc.CreateField(ctx, CreateFieldCommand{Side: domain.SideSource, Key: "email"})
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	if plain.Kind != domain.FieldKindSystem {
		t.Fatalf("expected blank kind to default to system, got %q", plain.Kind)
	}
}

func TestFieldRegistryCreateFieldValidation(t *testing.T) {
	svc, _ := newTestFieldRegistry(t, newMemoryStore())
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  CreateFieldCommand
	}{
		{name: "bad side", cmd: CreateFieldCommand{Side: "both", Key: "email"}},
		{name: "blank key", cmd: CreateFieldCommand{Side: domain.SideSource, Key: "  "}},
		{name: "bad kind", cmd: CreateFieldCommand{Side: domain.SideTarget, Key: "email", Kind: "builtin"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateField(ctx, tc.cmd); !errors.Is(err, ErrFieldInvalidInput) {
				t.Fatalf("expected ErrFieldInvalidInput, got %v", err)
			}
		})
	}
}

func TestFieldRegistryDuplicateKeyConflicts(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestFieldRegistry(t, store)
	ctx := context.Background()

	if _, err := svc.CreateField(ctx, CreateFieldCommand{Side: domain.SideSource, Key: "email"}); err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	if _, err := svc.CreateField(ctx, CreateFieldCommand{Side: domain.SideSource, Key: "email"}); !errors.Is(err, ErrFieldConflict) {
		t.Fatalf("expected ErrFieldConflict, got %v", err)
	}
	if _, err := svc.CreateField(ctx, CreateFieldCommand{Side: domain.SideTarget, Key: "email"}); err != nil {
		t.Fatalf("same key on the other side should be accepted: %v", err)
	}
}

func TestFieldRegistryUpdateField(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestFieldRegistry(t, store)
	ctx := context.Background()
	field := store.seedField(domain.SideTarget, "tier", domain.FieldKindSystem)

	kind := domain.FieldKind("Custom")
	name := "Tier"
	updated, err := svc.UpdateField(ctx, UpdateFieldCommand{Side: domain.SideTarget, ID: field.ID, Patch: domain.FieldPatch{Name: &name, Kind: &kind}})
	if err != nil {
		t.Fatalf("UpdateField: %v", err)
	}
	if updated.Name != "Tier" || updated.Kind != domain.FieldKindCustom || updated.Key != "tier" {
		t.Fatalf("unexpected update %#v", updated)
	}

	if _, err := svc.UpdateField(ctx, UpdateFieldCommand{Side: domain.SideTarget, ID: field.ID}); !errors.Is(err, ErrFieldInvalidInput) {
		t.Fatalf("expected empty patch to be rejected, got %v", err)
	}
	if _, err := svc.UpdateField(ctx, UpdateFieldCommand{Side: domain.SideTarget, ID: 999, Patch: domain.FieldPatch{Name: &name}}); !errors.Is(err, ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
}

func TestFieldRegistryCreateOptionAdmitsParent(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestFieldRegistry(t, store)
	ctx := context.Background()
	store.seedField(domain.SideSource, "tier", domain.FieldKindCustom)

	option, err := svc.CreateOption(ctx, CreateOptionCommand{Side: domain.SideSource, Label: "Gold", Key: "gold", ParentKey: "tier"})
	if err != nil {
		t.Fatalf("CreateOption: %v", err)
	}
	if option.ID == 0 || option.ParentKey != "tier" {
		t.Fatalf("unexpected option %#v", option)
	}

	// The parent exists only on the source side.
	_, err = svc.CreateOption(ctx, CreateOptionCommand{Side: domain.SideTarget, Key: "gold", ParentKey: "tier"})
	if !errors.Is(err, ErrUnknownParent) {
		t.Fatalf("expected ErrUnknownParent, got %v", err)
	}
	var integrityErr *IntegrityError
	if !errors.As(err, &integrityErr) || integrityErr.Side != domain.SideTarget {
		t.Fatalf("expected integrity error for target side, got %#v", err)
	}
	if all, _ := store.Options().List(ctx, domain.SideTarget, ListFilter{}); len(all.Items) != 0 {
		t.Fatalf("rejected option must not be stored, got %#v", all.Items)
	}
}

func TestFieldRegistryUpdateOptionReadmitsChangedParent(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestFieldRegistry(t, store)
	ctx := context.Background()
	store.seedField(domain.SideSource, "tier", domain.FieldKindCustom)
	option, err := svc.CreateOption(ctx, CreateOptionCommand{Side: domain.SideSource, Key: "gold", ParentKey: "tier"})
	if err != nil {
		t.Fatalf("CreateOption: %v", err)
	}

	label := "Gold plan"
	if _, err := svc.UpdateOption(ctx, UpdateOptionCommand{Side: domain.SideSource, ID: option.ID, Patch: domain.FieldOptionPatch{Label: &label}}); err != nil {
		t.Fatalf("label update should not need admission: %v", err)
	}

	missing := "ghost"
	_, err = svc.UpdateOption(ctx, UpdateOptionCommand{Side: domain.SideSource, ID: option.ID, Patch: domain.FieldOptionPatch{ParentKey: &missing}})
	if !errors.Is(err, ErrUnknownParent) {
		t.Fatalf("expected ErrUnknownParent, got %v", err)
	}
	stored, err := svc.GetOption(ctx, domain.SideSource, option.ID)
	if err != nil {
		t.Fatalf("GetOption: %v", err)
	}
	if stored.ParentKey != "tier" || stored.Label != "Gold plan" {
		t.Fatalf("rejected update must leave the option unchanged, got %#v", stored)
	}
}

func TestFieldRegistryListRejectsUnknownFilter(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestFieldRegistry(t, store)
	_, err := svc.ListFields(context.Background(), domain.SideSource, ListFilter{Equals: map[string]string{"colour": "red"}})
	if !errors.Is(err, ErrFieldInvalidInput) {
		t.Fatalf("expected ErrFieldInvalidInput, got %v", err)
	}
}

func TestFieldRegistryListFiltersByDataType(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestFieldRegistry(t, store)
	ctx := context.Background()
	for _, field := range []domain.Field{
		{Side: domain.SideSource, Key: "email", Name: "Email", DataType: "text", Kind: domain.FieldKindSystem},
		{Side: domain.SideSource, Key: "plan", Name: "Plan", DataType: "dropdown", Kind: domain.FieldKindCustom},
	} {
		if _, err := store.Fields().Insert(ctx, field); err != nil {
			t.Fatalf("seed %s: %v", field.Key, err)
		}
	}

	page, err := svc.ListFields(ctx, domain.SideSource, ListFilter{Equals: map[string]string{"data_type": "dropdown"}})
	if err != nil {
		t.Fatalf("ListFields: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Key != "plan" {
		t.Fatalf("expected only plan, got %#v", page.Items)
	}
}

func TestFieldRegistryDeleteField(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestFieldRegistry(t, store)
	ctx := context.Background()
	field := store.seedField(domain.SideSource, "email", domain.FieldKindSystem)

	if err := svc.DeleteField(ctx, domain.SideSource, field.ID); err != nil {
		t.Fatalf("DeleteField: %v", err)
	}
	if err := svc.DeleteField(ctx, domain.SideSource, field.ID); !errors.Is(err, ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
}
