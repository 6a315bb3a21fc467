package syncer

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/Kamar-Folarin/kashflow-sync/internal/config"
	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// StrategyKind selects the traversal used for an entity
type StrategyKind string

const (
	StrategyFullTraversal  StrategyKind = "fullTraversal"
	StrategyWrapTraversal  StrategyKind = "wrapTraversal"
	StrategyIncrementalMax StrategyKind = "incrementalMax"
)

// CountCheck controls when the active document count is compared to the API total
type CountCheck int

const (
	CountCheckNever CountCheck = iota
	CountCheckOnComplete
	CountCheckAlways
)

// Entity names in sync order
const (
	EntityCustomers = "customers"
	EntitySuppliers = "suppliers"
	EntityInvoices  = "invoices"
	EntityQuotes    = "quotes"
	EntityProjects  = "projects"
	EntityPurchases = "purchases"
)

// EntitySpec parameterizes a shared strategy for one entity type.
type EntitySpec struct {
	Name     string
	Strategy StrategyKind
	// KeyField is the natural key: a string code or a numeric sequence.
	KeyField string
	PageSize int
	Params   map[string]string
	// DateFields are normalized to RFC3339 UTC before storing.
	DateFields []string
	// InsertOnly returns extra fields written only when a document is created.
	InsertOnly           func(key string) models.Document
	StopOnUnpaged        bool
	StopOnExhaustedTotal bool
	CountCheck           CountCheck
}

func (s *EntitySpec) lastPageKey() string { return s.Name + ":lastPage" }

func (s *EntitySpec) lastMaxKey() string { return s.Name + ":lastMaxNumber" }

// DefaultEntities returns the six KashFlow entities in their fixed sync
// order. Purchases run last.
func DefaultEntities(cfg *config.SyncConfig) []EntitySpec {
	incremental := func(name string, dates ...string) EntitySpec {
		return EntitySpec{
			Name:       name,
			Strategy:   StrategyIncrementalMax,
			KeyField:   "Number",
			PageSize:   cfg.IncrementalPageSize,
			Params:     map[string]string{"sortby": "Number", "order": "Desc"},
			DateFields: dates,
		}
	}

	invoices := incremental(EntityInvoices, "IssuedDate", "DueDate", "LastPaymentDate", "PaidDate")
	invoices.InsertOnly = func(key string) models.Document {
		return models.Document{"uuid": "invoice:" + key}
	}

	projects := incremental(EntityProjects, "StartDate", "EndDate")
	projects.StopOnUnpaged = true
	projects.StopOnExhaustedTotal = true

	return []EntitySpec{
		{
			Name:       EntityCustomers,
			Strategy:   StrategyFullTraversal,
			KeyField:   "Code",
			PageSize:   cfg.CustomersPageSize,
			Params:     map[string]string{"sortby": "Code", "order": "Asc"},
			DateFields: []string{"LastUpdatedDate", "CreatedDate", "FirstInvoiceDate", "LastInvoiceDate"},
			CountCheck: CountCheckOnComplete,
		},
		{
			Name:       EntitySuppliers,
			Strategy:   StrategyWrapTraversal,
			KeyField:   "Code",
			PageSize:   cfg.SuppliersPageSize,
			Params:     map[string]string{"sortby": "Name", "order": "Asc"},
			DateFields: []string{"LastUpdatedDate"},
			CountCheck: CountCheckAlways,
		},
		invoices,
		incremental(EntityQuotes, "Date"),
		projects,
		incremental(EntityPurchases, "IssuedDate", "DueDate", "PaidDate"),
	}
}

func (s *EntitySpec) validate() error {
	if s.Name == "" || s.KeyField == "" {
		return fmt.Errorf("entity spec requires a name and key field")
	}
	if s.PageSize <= 0 {
		return fmt.Errorf("entity %s: page size must be positive", s.Name)
	}
	switch s.Strategy {
	case StrategyFullTraversal, StrategyWrapTraversal, StrategyIncrementalMax:
	default:
		return fmt.Errorf("entity %s: unknown strategy %q", s.Name, s.Strategy)
	}
	return nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// toDocument copies an item and normalizes its date fields. Empty date
// strings are dropped so they never overwrite a stored value; unparseable
// dates are kept verbatim.
func (s *EntitySpec) toDocument(item models.Item) models.Document {
	doc := models.Document(maps.Clone(item))
	for _, field := range s.DateFields {
		raw, ok := doc[field].(string)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			delete(doc, field)
			continue
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				doc[field] = t.UTC().Format(time.RFC3339)
				break
			}
		}
	}
	return doc
}
