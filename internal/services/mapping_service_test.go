package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	domain "finitefield.org/usermapping/internal/domain"
)

func newTestMappingService(t *testing.T, store *memoryStore) (MappingService, *eventRecorder) {
	t.Helper()
	events := &eventRecorder{}
	svc, err := NewMappingService(MappingServiceDeps{
		Fields:         store.Fields(),
		FieldMappings:  store.FieldMappings(),
		OptionMappings: store.OptionMappings(),
		UnitOfWork:     store,
		Logger:         events.log,
	})
	if err != nil {
		t.Fatalf("NewMappingService: %v", err)
	}
	return svc, events
}

func TestMappingServiceCreateOptionMappingChecksBothSides(t *testing.T) {
	store := newMemoryStore()
	svc, events := newTestMappingService(t, store)
	ctx := context.Background()
	store.seedField(domain.SideSource, "tier", domain.FieldKindCustom)
	store.seedField(domain.SideTarget, "plan", domain.FieldKindCustom)

	created, err := svc.CreateOptionMapping(ctx, CreateOptionMappingCommand{SourceValueKey: "active", TargetValueKey: "yes", SourceField: "tier", TargetField: "plan"})
	if err != nil {
		t.Fatalf("CreateOptionMapping: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected id to be assigned")
	}

	cases := []struct {
		name string
		cmd  CreateOptionMappingCommand
	}{
		{name: "unknown source parent", cmd: CreateOptionMappingCommand{SourceValueKey: "a", TargetValueKey: "b", SourceField: "ghost", TargetField: "plan"}},
		{name: "unknown target parent", cmd: CreateOptionMappingCommand{SourceValueKey: "a", TargetValueKey: "b", SourceField: "tier", TargetField: "ghost"}},
		// A key that exists only on the other side still fails.
		{name: "sides swapped", cmd: CreateOptionMappingCommand{SourceValueKey: "a", TargetValueKey: "b", SourceField: "plan", TargetField: "tier"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateOptionMapping(ctx, tc.cmd)
			if !errors.Is(err, ErrUnknownParent) {
				t.Fatalf("expected ErrUnknownParent, got %v", err)
			}
		})
	}

	all, _ := store.OptionMappings().ListAll(ctx)
	if len(all) != 1 {
		t.Fatalf("rejected mappings must not be stored, got %d rows", len(all))
	}
	if _, ok := events.find("option_mapping.rejected"); !ok {
		t.Fatalf("expected rejection to be logged")
	}
}

func TestMappingServiceRejectedOptionMappingNeverCompiled(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestMappingService(t, store)
	ctx := context.Background()
	store.seedField(domain.SideTarget, "plan", domain.FieldKindCustom)

	if _, err := svc.CreateOptionMapping(ctx, CreateOptionMappingCommand{SourceValueKey: "active", TargetValueKey: "yes", SourceField: "tier", TargetField: "plan"}); !errors.Is(err, ErrUnknownParent) {
		t.Fatalf("expected ErrUnknownParent, got %v", err)
	}
	result, err := svc.CompileDocument(ctx)
	if err != nil {
		t.Fatalf("CompileDocument: %v", err)
	}
	if result.Document.User.TranslationMap.Len() != 0 {
		t.Fatalf("rejected mapping leaked into the document")
	}
}

func TestMappingServiceCreateOptionMappingRequiresValues(t *testing.T) {
	svc, _ := newTestMappingService(t, newMemoryStore())
	_, err := svc.CreateOptionMapping(context.Background(), CreateOptionMappingCommand{SourceField: "tier", TargetField: "plan"})
	if !errors.Is(err, ErrMappingInvalidInput) {
		t.Fatalf("expected ErrMappingInvalidInput, got %v", err)
	}
}

func TestMappingServiceUpdateOptionMappingReadmitsParents(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestMappingService(t, store)
	ctx := context.Background()
	store.seedField(domain.SideSource, "tier", domain.FieldKindCustom)
	store.seedField(domain.SideTarget, "plan", domain.FieldKindCustom)
	created, err := svc.CreateOptionMapping(ctx, CreateOptionMappingCommand{SourceValueKey: "active", TargetValueKey: "yes", SourceField: "tier", TargetField: "plan"})
	if err != nil {
		t.Fatalf("CreateOptionMapping: %v", err)
	}

	value := "si"
	updated, err := svc.UpdateOptionMapping(ctx, UpdateOptionMappingCommand{ID: created.ID, Patch: domain.OptionMappingPatch{TargetValueKey: &value}})
	if err != nil {
		t.Fatalf("UpdateOptionMapping: %v", err)
	}
	if updated.TargetValueKey != "si" {
		t.Fatalf("unexpected update %#v", updated)
	}

	ghost := "ghost"
	_, err = svc.UpdateOptionMapping(ctx, UpdateOptionMappingCommand{ID: created.ID, Patch: domain.OptionMappingPatch{TargetField: &ghost}})
	if !errors.Is(err, ErrUnknownParent) {
		t.Fatalf("expected ErrUnknownParent, got %v", err)
	}
	stored, err := svc.GetOptionMapping(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetOptionMapping: %v", err)
	}
	if stored.TargetField != "plan" {
		t.Fatalf("rejected update must not persist, got %#v", stored)
	}
}

func TestMappingServiceFieldMappingCRUD(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestMappingService(t, store)
	ctx := context.Background()

	if _, err := svc.CreateFieldMapping(ctx, CreateFieldMappingCommand{SourceFieldKey: "email"}); !errors.Is(err, ErrMappingInvalidInput) {
		t.Fatalf("expected ErrMappingInvalidInput, got %v", err)
	}

	// Field mappings are not gated by the registry.
	created, err := svc.CreateFieldMapping(ctx, CreateFieldMappingCommand{SourceFieldKey: "email", TargetFieldKey: "e_mail"})
	if err != nil {
		t.Fatalf("CreateFieldMapping: %v", err)
	}

	target := "mail"
	updated, err := svc.UpdateFieldMapping(ctx, UpdateFieldMappingCommand{ID: created.ID, Patch: domain.FieldMappingPatch{TargetFieldKey: &target}})
	if err != nil {
		t.Fatalf("UpdateFieldMapping: %v", err)
	}
	if updated.SourceFieldKey != "email" || updated.TargetFieldKey != "mail" {
		t.Fatalf("unexpected update %#v", updated)
	}

	if err := svc.DeleteFieldMapping(ctx, created.ID); err != nil {
		t.Fatalf("DeleteFieldMapping: %v", err)
	}
	if _, err := svc.GetFieldMapping(ctx, created.ID); !errors.Is(err, ErrMappingNotFound) {
		t.Fatalf("expected ErrMappingNotFound, got %v", err)
	}
}

func TestMappingServiceCompileDocumentUsesReadSnapshot(t *testing.T) {
	store := newMemoryStore()
	svc, events := newTestMappingService(t, store)
	ctx := context.Background()
	store.seedField(domain.SideSource, "email", domain.FieldKindSystem)
	store.seedField(domain.SideSource, "custom1", domain.FieldKindCustom)
	store.seedField(domain.SideSource, "tier", domain.FieldKindCustom)
	store.seedField(domain.SideTarget, "plan", domain.FieldKindCustom)

	for _, cmd := range []CreateFieldMappingCommand{
		{SourceFieldKey: "email", TargetFieldKey: "e_mail"},
		{SourceFieldKey: "custom1", TargetFieldKey: "c1"},
		{SourceFieldKey: "legacy", TargetFieldKey: "old"},
	} {
		if _, err := svc.CreateFieldMapping(ctx, cmd); err != nil {
			t.Fatalf("CreateFieldMapping: %v", err)
		}
	}
	for _, cmd := range []CreateOptionMappingCommand{
		{SourceValueKey: "active", TargetValueKey: "yes", SourceField: "tier", TargetField: "plan"},
		{SourceValueKey: "inactive", TargetValueKey: "no", SourceField: "tier", TargetField: "plan"},
	} {
		if _, err := svc.CreateOptionMapping(ctx, cmd); err != nil {
			t.Fatalf("CreateOptionMapping: %v", err)
		}
	}

	result, err := svc.CompileDocument(ctx)
	if err != nil {
		t.Fatalf("CompileDocument: %v", err)
	}
	if store.readTxCalls != 1 {
		t.Fatalf("expected one read transaction, got %d", store.readTxCalls)
	}
	got, err := json.Marshal(result.Document)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"user":{"field_map":{"email":"e_mail","legacy":"old","custom_field":{"custom1":"c1"}},"translation_map":{"tier":{"destination_id":"plan","active":"yes","inactive":"no"}}}}`
	if string(got) != want {
		t.Fatalf("unexpected document\n got: %s\nwant: %s", got, want)
	}
	if len(result.Unresolved) != 1 || result.Unresolved[0] != "legacy" {
		t.Fatalf("expected legacy to be unresolved, got %v", result.Unresolved)
	}
	if _, ok := events.find("mapping.compile.unresolved_source_fields"); !ok {
		t.Fatalf("expected unresolved keys to be logged")
	}
}

func TestMappingServiceExportSnapshot(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestMappingService(t, store)
	ctx := context.Background()
	store.seedField(domain.SideSource, "email", domain.FieldKindSystem)
	store.seedField(domain.SideTarget, "e_mail", domain.FieldKindSystem)
	if _, err := svc.CreateFieldMapping(ctx, CreateFieldMappingCommand{SourceFieldKey: "email", TargetFieldKey: "e_mail"}); err != nil {
		t.Fatalf("CreateFieldMapping: %v", err)
	}
	if _, err := svc.CreateFieldMapping(ctx, CreateFieldMappingCommand{SourceFieldKey: "email", TargetFieldKey: "missing"}); err != nil {
		t.Fatalf("CreateFieldMapping: %v", err)
	}

	export, err := svc.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	if export.FieldMappings != 2 || export.OptionMappings != 0 {
		t.Fatalf("unexpected counts %#v", export)
	}
	if len(export.Rows) != 1 || export.Rows[0].TargetFieldKey != "e_mail" {
		t.Fatalf("expected only the fully resolved row, got %#v", export.Rows)
	}
}
