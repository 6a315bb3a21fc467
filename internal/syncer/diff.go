package syncer

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// DiffFieldLimit caps the number of fields recorded per ChangeRecord.
const DiffFieldLimit = 40

var excludedFields = map[string]struct{}{
	models.FieldCreatedAt:   {},
	models.FieldUpdatedAt:   {},
	models.FieldDeletedAt:   {},
	models.FieldLastSeenRun: {},
	"_id":                   {},
	"__v":                   {},
	"uuid":                  {},
}

func isExcluded(field string) bool {
	if _, ok := excludedFields[field]; ok {
		return true
	}
	return strings.HasPrefix(field, "_")
}

// Diff compares a stored document with the document about to be written.
// Only fields present in after are considered, so a field the upstream no
// longer returns counts as unchanged. A nil before means an insert and every
// field of after is reported. Both results hold at most DiffFieldLimit fields.
func Diff(before, after models.Document) ([]string, map[string]models.FieldChange) {
	keys := make([]string, 0, len(after))
	for k := range after {
		if !isExcluded(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	changed := make([]string, 0)
	changes := make(map[string]models.FieldChange)
	for _, k := range keys {
		av := after[k]
		var bv any
		if before != nil {
			bv = before[k]
			if valuesEqual(bv, av) {
				continue
			}
		}
		changed = append(changed, k)
		changes[k] = models.FieldChange{Before: bv, After: av}
		if len(changed) >= DiffFieldLimit {
			break
		}
	}
	return changed, changes
}

func valuesEqual(a, b any) bool {
	if isScalar(a) && isScalar(b) {
		return a == b
	}
	return cmp.Equal(a, b, cmpopts.EquateEmpty())
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, json.Number:
		return true
	default:
		return false
	}
}
