package document

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ID identifies a document within its entity: the identity field values plus
// the object type.
type ID struct {
	ObjectType string
	Values     []any
}

// IdentityOf extracts the identity of doc from the given identity fields.
// Absent fields contribute nil.
func IdentityOf(doc Doc, objectType string, fields []Path) ID {
	id := ID{ObjectType: objectType, Values: make([]any, len(fields))}
	for i, f := range fields {
		if v, ok := Get(doc, f); ok {
			id.Values[i] = Normalize(v)
		}
	}
	return id
}

// Key is a string usable as a map key. Equal identities have equal keys.
func (id ID) Key() string {
	var b strings.Builder
	b.WriteString(id.ObjectType)
	for _, v := range id.Values {
		b.WriteByte('|')
		enc, err := json.Marshal(Normalize(v))
		if err != nil {
			fmt.Fprintf(&b, "%v", v)
			continue
		}
		b.Write(enc)
	}
	return b.String()
}

func (id ID) String() string {
	parts := make([]string, len(id.Values))
	for i, v := range id.Values {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return id.ObjectType + ":" + strings.Join(parts, ",")
}

// MarshalJSON renders the identity as {"objectType":..., "values":[...]}.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ObjectType string `json:"objectType"`
		Values     []any  `json:"values"`
	}{id.ObjectType, id.Values})
}
