package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

type fakeSigner struct {
	email    string
	payloads [][]byte
	err      error
}

func (f *fakeSigner) Email() string { return f.email }

func (f *fakeSigner) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return []byte("signed"), nil
}

func TestExportObjectPath(t *testing.T) {
	tests := []struct {
		prefix, id, name string
		want             string
		wantErr          bool
	}{
		{prefix: "exports", id: "01J9Z3", name: "mapping.json", want: "exports/01J9Z3/mapping.json"},
		{prefix: "/team/exports/", id: "01J9Z3", name: "mapping.xlsx", want: "team/exports/01J9Z3/mapping.xlsx"},
		{prefix: "", id: "01J9Z3", name: "mapping.json", want: "01J9Z3/mapping.json"},
		{prefix: "exports", id: "../etc", name: "mapping.json", wantErr: true},
		{prefix: "exports", id: "01J9Z3", name: "a/b.json", wantErr: true},
		{prefix: "ex..ports", id: "01J9Z3", name: "mapping.json", wantErr: true},
		{prefix: "exports", id: " ", name: "mapping.json", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ExportObjectPath(tc.prefix, tc.id, tc.name)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ExportObjectPath(%q,%q,%q) expected error", tc.prefix, tc.id, tc.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ExportObjectPath(%q,%q,%q) error: %v", tc.prefix, tc.id, tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("ExportObjectPath(%q,%q,%q) = %q, want %q", tc.prefix, tc.id, tc.name, got, tc.want)
		}
	}

	latest, err := LatestObjectPath("exports", "mapping.json")
	if err != nil || latest != "exports/latest/mapping.json" {
		t.Fatalf("unexpected latest path %q (%v)", latest, err)
	}
}

func TestSignedDownloadURL(t *testing.T) {
	signer := &fakeSigner{email: "exports@example.iam.gserviceaccount.com"}
	expires := time.Now().Add(10 * time.Minute)

	raw, err := SignedDownloadURL(context.Background(), signer, "bucket", "exports/01J9Z3/mapping.json", expires)
	if err != nil {
		t.Fatalf("SignedDownloadURL returned error: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if !strings.HasSuffix(parsed.Path, "/bucket/exports/01J9Z3/mapping.json") {
		t.Fatalf("unexpected path %s", parsed.Path)
	}
	query := parsed.Query()
	if query.Get("X-Goog-Algorithm") != "GOOG4-RSA-SHA256" {
		t.Fatalf("expected V4 signing, got %q", query.Get("X-Goog-Algorithm"))
	}
	if !strings.HasPrefix(query.Get("X-Goog-Credential"), signer.email) {
		t.Fatalf("unexpected credential %q", query.Get("X-Goog-Credential"))
	}
	if len(signer.payloads) != 1 {
		t.Fatalf("expected one signing call, got %d", len(signer.payloads))
	}
}

func TestSignedDownloadURLErrors(t *testing.T) {
	expires := time.Now().Add(time.Minute)
	if _, err := SignedDownloadURL(context.Background(), nil, "bucket", "obj", expires); err == nil {
		t.Fatalf("expected error without signer")
	}
	signer := &fakeSigner{email: "svc@example.com"}
	if _, err := SignedDownloadURL(context.Background(), signer, "", "obj", expires); !errors.Is(err, errNoBucket) {
		t.Fatalf("expected errNoBucket, got %v", err)
	}
	failing := &fakeSigner{email: "svc@example.com", err: errors.New("kms down")}
	if _, err := SignedDownloadURL(context.Background(), failing, "bucket", "obj", expires); err == nil {
		t.Fatalf("expected signing failure to surface")
	}
}

func TestNewExportArchiveRequiresBucketAndClient(t *testing.T) {
	if _, err := NewExportArchive(nil, "", "exports"); !errors.Is(err, errNoBucket) {
		t.Fatalf("expected errNoBucket, got %v", err)
	}
	if _, err := NewExportArchive(nil, "bucket", "exports"); err == nil {
		t.Fatalf("expected missing client error")
	}
}
