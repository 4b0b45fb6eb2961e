package manifest

import (
	"reflect"
	"strings"
	"testing"

	"github.com/lumaops/provisioner/pkg/engine"
)

func strPtr(s string) *string { return &s }

func TestDecodeRejectsCorruptManifests(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"not json", "{{{"},
		{"object instead of array", `{"slug": "acme"}`},
		{"missing slug", `[{"business_id": "1"}]`},
		{"empty slug", `[{"slug": "", "business_id": "1"}]`},
		{"numeric business id", `[{"slug": "acme", "business_id": 1}]`},
		{"unknown field", `[{"slug": "acme", "business_id": "1", "extra": true}]`},
		{"duplicate slug", `[{"slug": "acme", "business_id": "1"}, {"slug": "acme", "business_id": "2"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if err == nil {
				t.Fatal("expected decode error")
			}
			if !engine.IsManifestCorrupt(err) {
				t.Fatalf("expected ManifestCorruptError, got %v", err)
			}
		})
	}
}

func TestDecodeValidManifest(t *testing.T) {
	data := `[
  {"slug": "acme", "business_id": "1234567890", "project_id": "acme-123456", "google_ads_customer_id": null},
  {"slug": "globex", "business_id": "42", "project_id": "globex-prod", "google_ads_customer_id": "123-456-7890"},
  {"slug": "legacy", "business_id": "7"}
]`
	m, err := Decode([]byte(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(m) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(m))
	}

	if m[0].Slug != "acme" {
		t.Errorf("expected acme first, got %s", m[0].Slug)
	}
	if m[0].GoogleAdsCustomerID != nil {
		t.Errorf("expected null ads id, got %q", *m[0].GoogleAdsCustomerID)
	}
	if m[1].GoogleAdsCustomerID == nil || *m[1].GoogleAdsCustomerID != "123-456-7890" {
		t.Errorf("unexpected ads id: %v", m[1].GoogleAdsCustomerID)
	}
	if m[2].ProjectID != "" {
		t.Errorf("expected empty project id, got %q", m[2].ProjectID)
	}
}

func TestDecodeEmptyArray(t *testing.T) {
	m, err := Decode([]byte("[]"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if m == nil || len(m) != 0 {
		t.Fatalf("expected empty non-nil manifest, got %#v", m)
	}
}

func TestEncodeFormat(t *testing.T) {
	m := Manifest{{Slug: "acme", BusinessID: "1234567890", ProjectID: "acme-123456"}}
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	want := `[
  {
    "slug": "acme",
    "business_id": "1234567890",
    "project_id": "acme-123456",
    "google_ads_customer_id": null
  }
]
`
	if string(data) != want {
		t.Errorf("unexpected encoding:\n%s\nwant:\n%s", data, want)
	}

	empty, err := Encode(nil)
	if err != nil {
		t.Fatalf("Encode(nil) failed: %v", err)
	}
	if string(empty) != "[]\n" {
		t.Errorf("expected empty array, got %q", empty)
	}
}

func TestUpsert(t *testing.T) {
	m := Manifest{
		{Slug: "a", BusinessID: "1"},
		{Slug: "b", BusinessID: "2"},
	}

	if !m.Upsert(Entry{Slug: "c", BusinessID: "3"}) {
		t.Error("append reported no change")
	}
	if got := slugs(m); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("after append: %v", got)
	}

	if !m.Upsert(Entry{Slug: "a", BusinessID: "10", GoogleAdsCustomerID: strPtr("x")}) {
		t.Error("replace reported no change")
	}
	if got := slugs(m); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("replace must keep position: %v", got)
	}
	if m[0].BusinessID != "10" {
		t.Errorf("entry not replaced: %+v", m[0])
	}

	if m.Upsert(Entry{Slug: "a", BusinessID: "10", GoogleAdsCustomerID: strPtr("x")}) {
		t.Error("identical entry reported a change")
	}
	if !m.Upsert(Entry{Slug: "a", BusinessID: "10"}) {
		t.Error("clearing the ads id reported no change")
	}
}

func TestEntryFor(t *testing.T) {
	rec := &engine.ClientRecord{ID: "1", Slug: "acme", BusinessID: "99", ProjectID: "acme-1234", GoogleAdsCustomerID: strPtr("")}
	e := EntryFor(rec)
	if e.GoogleAdsCustomerID != nil {
		t.Errorf("empty ads id must be stored as null, got %q", *e.GoogleAdsCustomerID)
	}

	rec.GoogleAdsCustomerID = strPtr("555")
	e = EntryFor(rec)
	if e.GoogleAdsCustomerID == nil || *e.GoogleAdsCustomerID != "555" {
		t.Fatalf("unexpected ads id: %v", e.GoogleAdsCustomerID)
	}

	*rec.GoogleAdsCustomerID = "changed"
	if *e.GoogleAdsCustomerID != "555" {
		t.Error("entry aliases the record")
	}
}

func TestNewSchemaRequiresManifestDefinition(t *testing.T) {
	_, err := NewSchema(`#Other: string`)
	if err == nil {
		t.Fatal("expected error for schema without #Manifest")
	}
	if !strings.Contains(err.Error(), "#Manifest") {
		t.Errorf("unexpected error: %v", err)
	}
}

func slugs(m Manifest) []string {
	out := make([]string, len(m))
	for i, e := range m {
		out[i] = e.Slug
	}
	return out
}
