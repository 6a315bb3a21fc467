package syncer

import (
	"context"

	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// Fetcher pulls one page of normalized records for a single entity type.
// Implementations own retries; an error returned here has already exhausted
// them and aborts the entity.
type Fetcher interface {
	FetchPage(ctx context.Context, page, pageSize int, params map[string]string) (*models.Page, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, page, pageSize int, params map[string]string) (*models.Page, error)

func (f FetcherFunc) FetchPage(ctx context.Context, page, pageSize int, params map[string]string) (*models.Page, error) {
	return f(ctx, page, pageSize, params)
}

// Run carries the per-execution values shared by every entity of one sync.
type Run struct {
	Tag              string
	ForceFullRefresh bool
}

// PageProcessor applies a page's items, possibly concurrently. fn is called
// once per index; the first error aborts the page.
type PageProcessor interface {
	ProcessPage(ctx context.Context, entity string, page int, keys []string, fn func(ctx context.Context, i int) error) error
}

type sequentialProcessor struct{}

func (sequentialProcessor) ProcessPage(ctx context.Context, entity string, page int, keys []string, fn func(ctx context.Context, i int) error) error {
	for i := range keys {
		if err := fn(ctx, i); err != nil {
			return err
		}
	}
	return nil
}
