package trigger

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/lumaops/provisioner/pkg/engine"
)

// FirestoreEvent is the document-change envelope delivered for writes to the
// clients collection. Value and OldValue are documents in Firestore's typed
// REST encoding.
type FirestoreEvent struct {
	Value      json.RawMessage `json:"value,omitempty"`
	OldValue   json.RawMessage `json:"oldValue,omitempty"`
	UpdateMask *struct {
		FieldPaths []string `json:"fieldPaths,omitempty"`
	} `json:"updateMask,omitempty"`
}

// ParseEvent decodes an event body.
func ParseEvent(body []byte) (*FirestoreEvent, error) {
	var ev FirestoreEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, engine.NewValidationError("malformed event payload", err)
	}
	return &ev, nil
}

var docUnmarshal = protojson.UnmarshalOptions{DiscardUnknown: true}

// Document decodes the event's new document value. It returns nil when the
// event carries no value, as for deletes.
func (ev *FirestoreEvent) Document() (*firestorepb.Document, error) {
	if len(ev.Value) == 0 || string(ev.Value) == "null" {
		return nil, nil
	}
	var doc firestorepb.Document
	if err := docUnmarshal.Unmarshal(ev.Value, &doc); err != nil {
		return nil, engine.NewValidationError("malformed document in event", err)
	}
	return &doc, nil
}

// DocumentID returns the last path segment of a document resource name.
func DocumentID(name string) string {
	name = strings.TrimRight(name, "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// DecodeFields flattens typed document fields into plain Go values.
func DecodeFields(fields map[string]*firestorepb.Value) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = decodeValue(v)
	}
	return out
}

func decodeValue(v *firestorepb.Value) any {
	if v == nil {
		return nil
	}
	switch t := v.GetValueType().(type) {
	case *firestorepb.Value_StringValue:
		return t.StringValue
	case *firestorepb.Value_IntegerValue:
		return t.IntegerValue
	case *firestorepb.Value_DoubleValue:
		return t.DoubleValue
	case *firestorepb.Value_BooleanValue:
		return t.BooleanValue
	case *firestorepb.Value_TimestampValue:
		return t.TimestampValue.AsTime()
	case *firestorepb.Value_NullValue:
		return nil
	case *firestorepb.Value_ReferenceValue:
		return t.ReferenceValue
	case *firestorepb.Value_BytesValue:
		return base64.StdEncoding.EncodeToString(t.BytesValue)
	case *firestorepb.Value_ArrayValue:
		values := t.ArrayValue.GetValues()
		out := make([]any, 0, len(values))
		for _, item := range values {
			out = append(out, decodeValue(item))
		}
		return out
	case *firestorepb.Value_MapValue:
		return DecodeFields(t.MapValue.GetFields())
	case *firestorepb.Value_GeoPointValue:
		return map[string]any{
			"latitude":  t.GeoPointValue.GetLatitude(),
			"longitude": t.GeoPointValue.GetLongitude(),
		}
	}
	return nil
}

// RecordFromFields builds a client record from decoded document data.
// Numeric identifiers stored as integers are rendered as decimal strings and
// an empty ads customer id is treated as absent. Validation is left to the
// caller.
func RecordFromFields(id string, data map[string]any) *engine.ClientRecord {
	rec := &engine.ClientRecord{
		ID:         id,
		Slug:       stringField(data["slug"]),
		Name:       stringField(data["name"]),
		BusinessID: stringField(data["business_id"]),
		ProjectID:  stringField(data["project_id"]),
		CreatedBy:  stringField(data["created_by"]),
	}
	if ads := stringField(data["google_ads_customer_id"]); ads != "" {
		rec.GoogleAdsCustomerID = &ads
	}
	if ts, ok := data["created_at"].(time.Time); ok {
		rec.CreatedAt = ts
	}
	return rec
}

func stringField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}
