package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/lumaops/provisioner/pkg/engine"
)

// ContentType is the media type the manifest is stored with.
const ContentType = "application/json"

// Entry is one client's line in the shared manifest.
type Entry struct {
	Slug                string  `json:"slug"`
	BusinessID          string  `json:"business_id"`
	ProjectID           string  `json:"project_id,omitempty"`
	GoogleAdsCustomerID *string `json:"google_ads_customer_id"`
}

// EntryFor builds the manifest entry of a client record.
func EntryFor(rec *engine.ClientRecord) Entry {
	e := Entry{
		Slug:       rec.Slug,
		BusinessID: rec.BusinessID,
		ProjectID:  rec.ProjectID,
	}
	if rec.GoogleAdsCustomerID != nil && *rec.GoogleAdsCustomerID != "" {
		id := *rec.GoogleAdsCustomerID
		e.GoogleAdsCustomerID = &id
	}
	return e
}

// Equal reports whether two entries carry the same values.
func (e Entry) Equal(o Entry) bool {
	if e.Slug != o.Slug || e.BusinessID != o.BusinessID || e.ProjectID != o.ProjectID {
		return false
	}
	switch {
	case e.GoogleAdsCustomerID == nil && o.GoogleAdsCustomerID == nil:
		return true
	case e.GoogleAdsCustomerID == nil || o.GoogleAdsCustomerID == nil:
		return false
	default:
		return *e.GoogleAdsCustomerID == *o.GoogleAdsCustomerID
	}
}

// Manifest is the ordered list of client entries. Slugs are unique.
type Manifest []Entry

// Index returns the position of the entry with the given slug, or -1.
func (m Manifest) Index(slug string) int {
	for i, e := range m {
		if e.Slug == slug {
			return i
		}
	}
	return -1
}

// Upsert replaces the entry with the same slug in place, or appends it.
// It returns false when an identical entry is already present.
func (m *Manifest) Upsert(e Entry) bool {
	if i := m.Index(e.Slug); i >= 0 {
		if (*m)[i].Equal(e) {
			return false
		}
		(*m)[i] = e
		return true
	}
	*m = append(*m, e)
	return true
}

// Decode parses a stored manifest. Anything that is not a valid manifest,
// including an empty blob, is reported as a ManifestCorruptError.
func Decode(data []byte) (Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, engine.NewManifestCorruptError("manifest is empty", nil)
	}

	if err := defaultSchema.Validate(data); err != nil {
		return nil, engine.NewManifestCorruptError("manifest does not match schema", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, engine.NewManifestCorruptError("manifest is not valid JSON", err)
	}

	seen := make(map[string]struct{}, len(m))
	for _, e := range m {
		if _, dup := seen[e.Slug]; dup {
			return nil, engine.NewManifestCorruptError(fmt.Sprintf("duplicate slug %q", e.Slug), nil)
		}
		seen[e.Slug] = struct{}{}
	}

	if m == nil {
		m = Manifest{}
	}
	return m, nil
}

// Encode renders the manifest as an indented JSON array.
func Encode(m Manifest) ([]byte, error) {
	if m == nil {
		m = Manifest{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}
