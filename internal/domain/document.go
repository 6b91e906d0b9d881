package domain

import (
	"bytes"
	"encoding/json"
)

const (
	// CustomFieldKey holds the nested map of custom field pairs inside field_map.
	CustomFieldKey = "custom_field"
	// DestinationIDKey holds the target parent field inside a translation bucket.
	DestinationIDKey = "destination_id"
)

// OrderedStrings is a string-to-string map that marshals in insertion order.
// Overwriting an existing key keeps its original position. The zero value is ready to use.
type OrderedStrings struct {
	keys   []string
	values map[string]string
}

// Set stores value under key.
func (m *OrderedStrings) Set(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value stored under key.
func (m *OrderedStrings) Get(key string) (string, bool) {
	if m == nil || m.values == nil {
		return "", false
	}
	value, ok := m.values[key]
	return value, ok
}

// Len returns the number of keys.
func (m *OrderedStrings) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *OrderedStrings) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// MarshalJSON implements json.Marshaler.
func (m OrderedStrings) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	w := objectWriter{buf: &buf}
	w.open()
	for _, key := range m.keys {
		if err := w.field(key, m.values[key]); err != nil {
			return nil, err
		}
	}
	w.close()
	return buf.Bytes(), nil
}

// FieldMap holds source-to-target field key pairs. Custom is nil until a custom pair is added,
// which keeps the custom_field key out of the JSON entirely.
type FieldMap struct {
	Fields OrderedStrings
	Custom *OrderedStrings
}

// SetCustom records a custom field pair, creating the bucket on first use.
func (f *FieldMap) SetCustom(sourceKey, targetKey string) {
	if f.Custom == nil {
		f.Custom = &OrderedStrings{}
	}
	f.Custom.Set(sourceKey, targetKey)
}

// MarshalJSON implements json.Marshaler.
func (f FieldMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	w := objectWriter{buf: &buf}
	w.open()
	for _, key := range f.Fields.keys {
		if f.Custom != nil && key == CustomFieldKey {
			continue
		}
		if err := w.field(key, f.Fields.values[key]); err != nil {
			return nil, err
		}
	}
	if f.Custom != nil {
		if err := w.field(CustomFieldKey, f.Custom); err != nil {
			return nil, err
		}
	}
	w.close()
	return buf.Bytes(), nil
}

// TranslationBucket maps option value keys of one source field to target option value keys.
type TranslationBucket struct {
	DestinationID string
	Values        OrderedStrings
}

// MarshalJSON implements json.Marshaler. destination_id is always written first.
func (b TranslationBucket) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	w := objectWriter{buf: &buf}
	w.open()
	if err := w.field(DestinationIDKey, b.DestinationID); err != nil {
		return nil, err
	}
	for _, key := range b.Values.keys {
		if key == DestinationIDKey {
			continue
		}
		if err := w.field(key, b.Values.values[key]); err != nil {
			return nil, err
		}
	}
	w.close()
	return buf.Bytes(), nil
}

// TranslationMap groups translation buckets by source field key in first-seen order.
type TranslationMap struct {
	keys    []string
	buckets map[string]*TranslationBucket
}

// Ensure returns the bucket for sourceField, seeding destination on first creation only.
func (t *TranslationMap) Ensure(sourceField, destination string) (*TranslationBucket, bool) {
	if t.buckets == nil {
		t.buckets = make(map[string]*TranslationBucket)
	}
	if bucket, ok := t.buckets[sourceField]; ok {
		return bucket, false
	}
	bucket := &TranslationBucket{DestinationID: destination}
	t.buckets[sourceField] = bucket
	t.keys = append(t.keys, sourceField)
	return bucket, true
}

// Bucket returns the bucket for sourceField.
func (t *TranslationMap) Bucket(sourceField string) (*TranslationBucket, bool) {
	if t == nil || t.buckets == nil {
		return nil, false
	}
	bucket, ok := t.buckets[sourceField]
	return bucket, ok
}

// Len returns the number of buckets.
func (t *TranslationMap) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// Keys returns the source field keys in first-seen order.
func (t *TranslationMap) Keys() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// MarshalJSON implements json.Marshaler.
func (t TranslationMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	w := objectWriter{buf: &buf}
	w.open()
	for _, key := range t.keys {
		if err := w.field(key, t.buckets[key]); err != nil {
			return nil, err
		}
	}
	w.close()
	return buf.Bytes(), nil
}

// UserDocument is the body under the "user" root key.
type UserDocument struct {
	FieldMap       FieldMap       `json:"field_map"`
	TranslationMap TranslationMap `json:"translation_map"`
}

// CompiledDocument is the nested translation document handed to downstream sync jobs.
type CompiledDocument struct {
	User UserDocument `json:"user"`
}

type objectWriter struct {
	buf   *bytes.Buffer
	count int
}

func (w *objectWriter) open() {
	w.buf.WriteByte('{')
}

func (w *objectWriter) close() {
	w.buf.WriteByte('}')
}

func (w *objectWriter) field(key string, value any) error {
	if w.count > 0 {
		w.buf.WriteByte(',')
	}
	w.count++
	encodedKey, err := json.Marshal(key)
	if err != nil {
		return err
	}
	encodedValue, err := json.Marshal(value)
	if err != nil {
		return err
	}
	w.buf.Write(encodedKey)
	w.buf.WriteByte(':')
	w.buf.Write(encodedValue)
	return nil
}
