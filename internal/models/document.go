package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// Bookkeeping fields maintained by the sync engine on every stored document.
const (
	FieldCreatedAt   = "createdAt"
	FieldUpdatedAt   = "updatedAt"
	FieldDeletedAt   = "deletedAt"
	FieldLastSeenRun = "lastSeenRun"
)

// Document is a record as held by the document store, upstream fields plus
// bookkeeping fields. A nil deletedAt means the record is active.
type Document map[string]any

// Item is a single record as returned by the upstream API.
type Item map[string]any

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}

// IsDeleted reports whether the document carries a non-nil deletedAt.
func (d Document) IsDeleted() bool {
	v, ok := d[FieldDeletedAt]
	return ok && v != nil
}

// LastSeenRun returns the run tag that last touched the document.
func (d Document) LastSeenRun() string {
	s, _ := d[FieldLastSeenRun].(string)
	return s
}

// StringKey returns the item's field as a trimmed string key.
func (i Item) StringKey(field string) (string, bool) {
	switch v := i[field].(type) {
	case string:
		v = strings.TrimSpace(v)
		return v, v != ""
	case nil:
		return "", false
	default:
		s := strings.TrimSpace(fmt.Sprint(v))
		return s, s != ""
	}
}

// NumberKey returns the item's field as a positive integer key.
func (i Item) NumberKey(field string) (int64, bool) {
	n, ok := ToInt64(i[field])
	return n, ok && n > 0
}

// ToInt64 converts the numeric shapes produced by JSON decoding into an int64.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
