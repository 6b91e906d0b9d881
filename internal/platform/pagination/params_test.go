package pagination

import (
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || !params.Cursor.IsZero() {
		t.Fatalf("expected first page, got %#v", params)
	}
	if params.Filters != nil {
		t.Fatalf("expected nil filters, got %#v", params.Filters)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3"} {
		values := url.Values{}
		values.Set("pageSize", raw)
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("pageSize=%q: expected ErrInvalidPageSize got %v", raw, err)
		}
	}
}

func TestPageTokenRoundTrip(t *testing.T) {
	token, err := EncodeToken(Cursor{AfterID: 42})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}

	values := url.Values{}
	values.Set("pageToken", token)
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.Cursor.AfterID != 42 || params.PageToken != token {
		t.Fatalf("unexpected cursor %#v", params)
	}

	if empty, _ := EncodeToken(Cursor{}); empty != "" {
		t.Fatalf("expected zero cursor to encode empty, got %q", empty)
	}
}

func TestParseInvalidPageToken(t *testing.T) {
	for _, raw := range []string{"***", "bm90LWpzb24", "eyJhZnRlcklkIjotNX0"} {
		values := url.Values{}
		values.Set("pageToken", raw)
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("pageToken=%q: expected ErrInvalidPageToken got %v", raw, err)
		}
	}
}

func TestNextToken(t *testing.T) {
	if got := NextToken(10, 3, 5); got != "" {
		t.Fatalf("short page must not produce a token, got %q", got)
	}
	got := NextToken(10, 5, 5)
	cursor, err := DecodeToken(got)
	if err != nil || cursor.AfterID != 10 {
		t.Fatalf("unexpected next token %q (%v)", got, err)
	}
}

func TestParseFilters(t *testing.T) {
	opts := Options{AllowedFilterFields: []string{"parent_key", "side"}}
	values := url.Values{}
	values.Add("filter", "parent_key==tier")
	values.Add("filter", ` side == "src" `)

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	want := []Filter{{Field: "parent_key", Value: "tier"}, {Field: "side", Value: "src"}}
	if !reflect.DeepEqual(params.Filters, want) {
		t.Fatalf("unexpected filters %#v", params.Filters)
	}
	if got := params.FilterMap(); got["side"] != "src" {
		t.Fatalf("unexpected filter map %#v", got)
	}
}

func TestParseFiltersRejects(t *testing.T) {
	opts := Options{AllowedFilterFields: []string{"parent_key"}}
	for _, raw := range []string{"parent_key=tier", "label==x", "parent_key==", "bad-name==x"} {
		values := url.Values{}
		values.Set("filter", raw)
		if _, err := Parse(values, opts); !errors.Is(err, ErrInvalidFilter) {
			t.Fatalf("filter=%q: expected ErrInvalidFilter got %v", raw, err)
		}
	}

	values := url.Values{}
	values.Set("filter", "parent_key==tier")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected filtering to be unsupported without allowed fields, got %v", err)
	}
}

func TestFromRequestReadsQuery(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/src_user_fields?pageSize=5", nil)
	params, err := FromRequest(req, Options{})
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	if params.PageSize != 5 {
		t.Fatalf("expected page size 5, got %d", params.PageSize)
	}
	if _, err := FromRequest(nil, Options{}); err == nil {
		t.Fatalf("expected error for nil request")
	}
}
