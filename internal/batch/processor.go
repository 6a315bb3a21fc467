package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Kamar-Folarin/kashflow-sync/internal/config"
	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// Processor applies the items of a fetched page with a bounded worker pool
type Processor struct {
	config     *config.BatchConfig
	statusChan chan *models.PageProgress
	mu         sync.Mutex
}

// NewProcessor creates a new page processor
func NewProcessor(cfg *config.BatchConfig) *Processor {
	if cfg == nil {
		cfg = &config.BatchConfig{Workers: 1}
	}
	return &Processor{
		config:     cfg,
		statusChan: make(chan *models.PageProgress, 1),
	}
}

// ProcessPage calls fn for every index of keys. With one worker items are
// applied strictly in order; otherwise up to Workers run at once. The first
// error cancels the remaining items and is returned.
func (p *Processor) ProcessPage(ctx context.Context, entity string, page int, keys []string, fn func(ctx context.Context, i int) error) error {
	total := len(keys)
	if total == 0 {
		return nil
	}

	workers := p.config.Workers
	if workers < 1 {
		workers = 1
	}

	now := time.Now()
	progress := &models.PageProgress{
		Entity:         entity,
		Page:           page,
		TotalItems:     total,
		StartTime:      now,
		LastUpdateTime: now,
	}
	p.updateProgress(snapshot(progress))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	for i := range keys {
		i := i
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := fn(gctx, i); err != nil {
				mu.Lock()
				progress.Errors = append(progress.Errors, err.Error())
				mu.Unlock()
				return fmt.Errorf("%s page %d key %s: %w", entity, page, keys[i], err)
			}

			mu.Lock()
			progress.ProcessedItems++
			progress.LastKey = keys[i]
			progress.LastUpdateTime = time.Now()
			published := snapshot(progress)
			mu.Unlock()

			p.updateProgress(published)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	// A cancelled parent stops scheduling without an item error.
	return ctx.Err()
}

// snapshot copies progress so readers never share memory with the workers
func snapshot(progress *models.PageProgress) *models.PageProgress {
	out := *progress
	out.Errors = append([]string(nil), progress.Errors...)
	return &out
}

// GetProgress returns the channel carrying the latest page progress
func (p *Processor) GetProgress() <-chan *models.PageProgress {
	return p.statusChan
}

// updateProgress publishes progress, replacing any unread value
func (p *Processor) updateProgress(progress *models.PageProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case p.statusChan <- progress:
	default:
		select {
		case <-p.statusChan:
		default:
		}
		p.statusChan <- progress
	}
}
