// Package catalog provides a small composite entity model and data set
// for tests: users own addresses (array slots), orders (top-level reference)
// and orders reference products per line item.
package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
)

const User = `
name: user
version: 1.0.0
identity: [_id]
indexes:
  - fields: [login]
access:
  find: [anyone]
fields:
  - {name: _id, type: string}
  - {name: login, type: string}
  - {name: age, type: integer}
  - name: personal
    type: object
    fields:
      - {name: ssn, type: string, access: {find: [admin]}}
      - {name: phone, type: string}
  - name: addresses
    type: array
    items:
      type: object
      fields:
        - {name: addressId, type: string}
        - name: ref
          type: reference
          reference:
            entity: address
            version: 1.0.0
            query: {field: _id, op: "=", rfield: $parent.addressId}
  - name: orders
    type: reference
    reference:
      entity: order
      version: 1.0.0
      query: {field: userId, op: "=", rfield: $parent._id}
      sort: {field: _id, order: asc}
`

const Address = `
name: address
version: 1.0.0
access:
  find: [anyone]
fields:
  - {name: _id, type: string}
  - {name: city, type: string}
  - {name: street, type: string}
`

const Order = `
name: order
version: 1.0.0
indexes:
  - fields: [userId]
access:
  find: [anyone]
fields:
  - {name: _id, type: string}
  - {name: userId, type: string}
  - {name: total, type: double}
  - name: items
    type: array
    items:
      type: object
      fields:
        - {name: sku, type: string}
        - {name: qty, type: integer}
        - name: product
          type: reference
          reference:
            entity: product
            version: 1.0.0
            query: {field: sku, op: "=", rfield: $parent.sku}
            projection: {field: name}
`

const Product = `
name: product
version: 1.0.0
indexes:
  - fields: [sku]
access:
  find: [anyone]
fields:
  - {name: _id, type: string}
  - {name: sku, type: string}
  - {name: name, type: string}
  - {name: price, type: double}
`

// Registry returns a registry holding the four catalog entities.
func Registry(t testing.TB) *metadata.MemoryRegistry {
	t.Helper()
	reg := metadata.NewMemoryRegistry()
	for _, src := range []string{User, Address, Order, Product} {
		e, err := metadata.ParseEntity([]byte(src))
		require.NoError(t, err)
		require.NoError(t, reg.Add(e))
	}
	return reg
}

// MetadataDir writes the four catalog entities as YAML files into a
// temporary directory and returns it.
func MetadataDir(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{"user.yaml": User, "address.yaml": Address, "order.yaml": Order, "product.yaml": Product}
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600))
	}
	return dir
}

// Documents returns a fresh copy of the catalog data set keyed by entity
// name.
func Documents() map[string][]document.Doc {
	return map[string][]document.Doc{
		"user": {
			{"_id": "u1", "login": "alice", "age": 30.0, "personal": map[string]any{"ssn": "111", "phone": "555-1"},
				"addresses": []any{map[string]any{"addressId": "a1"}, map[string]any{"addressId": "a2"}}},
			{"_id": "u2", "login": "bob", "age": 25.0, "personal": map[string]any{"ssn": "222", "phone": "555-2"},
				"addresses": []any{map[string]any{"addressId": "a3"}}},
			{"_id": "u3", "login": "carol", "age": 41.0,
				"addresses": []any{map[string]any{"addressId": "a1"}}},
			{"_id": "u4", "login": "dave", "age": 19.0},
		},
		"address": {
			{"_id": "a1", "city": "Paris", "street": "Rue A"},
			{"_id": "a2", "city": "Lyon", "street": "Rue B"},
			{"_id": "a3", "city": "Paris", "street": "Rue C"},
		},
		"order": {
			{"_id": "o1", "userId": "u1", "total": 10.0, "items": []any{map[string]any{"sku": "p1", "qty": 1.0}}},
			{"_id": "o2", "userId": "u2", "total": 99.0, "items": []any{map[string]any{"sku": "p2", "qty": 2.0}, map[string]any{"sku": "p1", "qty": 1.0}}},
			{"_id": "o3", "userId": "u1", "total": 5.0},
		},
		"product": {
			{"_id": "p1", "sku": "p1", "name": "Pen", "price": 1.5},
			{"_id": "p2", "sku": "p2", "name": "Book", "price": 12.0},
		},
	}
}
