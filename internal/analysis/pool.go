package analysis

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/rill-lang/rillsec/internal/ast"
)

// DefaultCacheSize bounds the shared result cache.
const DefaultCacheSize = 1024

// Pool analyzes independent translation units in parallel. Each worker
// owns a private Analyzer (no shared mutable rule-engine state on the
// hot path); workers share one bounded result cache keyed by the unit's
// content fingerprint, so re-analyzing an unchanged unit is a lookup.
type Pool struct {
	workers int
	cache   *lru.Cache[string, []Finding]
	secrets *Analyzer // template carrying the shared secret detector

	analyzed  atomic.Int64
	cacheHits atomic.Int64
}

// NewPool creates a pool with the given parallelism and cache bound.
// workers <= 0 means GOMAXPROCS; cacheSize <= 0 means DefaultCacheSize.
func NewPool(workers, cacheSize int) (*Pool, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[string, []Finding](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis cache: %w", err)
	}

	return &Pool{
		workers: workers,
		cache:   cache,
		secrets: NewAnalyzer(),
	}, nil
}

// Analyze runs every unit through the analyzer and returns all findings
// in stable order. Units are partitioned across workers; results for one
// unit never depend on another, so the only shared state is the cache.
func (p *Pool) Analyze(ctx context.Context, files []*ast.File) ([]Finding, error) {
	results := make([][]Finding, len(files))

	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	for w := 0; w < p.workers; w++ {
		worker := newAnalyzerSharing(p.secrets.secrets)
		g.Go(func() error {
			for i := range jobs {
				results[i] = p.analyzeOne(worker, files[i])
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for i := range files {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return MergeFindings(results...), nil
}

// analyzeOne consults the cache before paying for a full walk. The cache
// critical section is lookup/insert only; the walk itself runs unlocked.
func (p *Pool) analyzeOne(worker *Analyzer, file *ast.File) []Finding {
	key := ast.Fingerprint(file)

	if cached, ok := p.cache.Get(key); ok {
		p.cacheHits.Add(1)
		return cached
	}

	findings := worker.AnalyzeFile(file)
	p.analyzed.Add(1)
	p.cache.Add(key, findings)
	return findings
}

// Stats reports how many units were fully analyzed versus served from
// cache since the pool was created.
func (p *Pool) Stats() (analyzed, cacheHits int64) {
	return p.analyzed.Load(), p.cacheHits.Load()
}
