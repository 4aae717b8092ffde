package terrain

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

// DefaultGridSizeByZoom is the per-zoom mesh tessellation table: entry z is
// the grid size (quads per tile side) used for segments at tile zoom z.
// All entries are powers of two. Zooms beyond the table reuse the last
// entry.
var DefaultGridSizeByZoom = []int{
	32, 32, 32, 16, 16, 16, 16, 16, 16, 16, 16,
	8, 8, 8, 8, 8, 8, 8, 8, 8, 8,
	8, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8,
}

// Result is one finished tile load, delivered on the frame thread.
type Result struct {
	Key  Key
	Tile *Tile // nil when Exists is false
	// Exists is false when the source has no data for the tile (or the
	// fetch failed permanently): the consumer keeps its plain mesh.
	Exists bool
	Err    error
}

// Config tunes a Provider. Zero fields take defaults.
type Config struct {
	MinZoom        int
	MaxZoom        int
	FileGridSize   int   // samples per side of source tiles, power of two
	GridSizeByZoom []int // mesh grid size per tile zoom
	Concurrency    int
	CacheSize      int // decoded tiles kept in memory
}

// Provider fetches and decodes elevation tiles on a worker pool. Request is
// fire-and-forget and idempotent per key; completions are buffered until
// the frame thread drains them.
type Provider struct {
	MinZoom        int
	MaxZoom        int
	FileGridSize   int
	GridSizeByZoom []int

	source Source
	cache  *lru.Cache[Key, *Tile]

	mu      sync.Mutex
	pending map[Key]bool
	closed  bool

	jobs chan Key
	done chan Result
	wg   sync.WaitGroup
}

// NewProvider starts the worker pool over the given source.
func NewProvider(source Source, cfg Config) *Provider {
	if cfg.MinZoom <= 0 {
		cfg.MinZoom = 2
	}
	if cfg.MaxZoom <= 0 {
		cfg.MaxZoom = 14
	}
	if cfg.FileGridSize <= 0 {
		cfg.FileGridSize = 32
	}
	if len(cfg.GridSizeByZoom) == 0 {
		cfg.GridSizeByZoom = DefaultGridSizeByZoom
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}

	cache, _ := lru.New[Key, *Tile](cfg.CacheSize)
	p := &Provider{
		MinZoom:        cfg.MinZoom,
		MaxZoom:        cfg.MaxZoom,
		FileGridSize:   cfg.FileGridSize,
		GridSizeByZoom: cfg.GridSizeByZoom,
		source:         source,
		cache:          cache,
		pending:        make(map[Key]bool),
		jobs:           make(chan Key, 4096),
		done:           make(chan Result, 4096),
	}

	for w := 0; w < cfg.Concurrency; w++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// GridSize returns the mesh tessellation for a tile zoom; zooms past the
// table reuse the last entry.
func (p *Provider) GridSize(zoom int) int {
	if len(p.GridSizeByZoom) == 0 {
		return 1
	}
	if zoom >= len(p.GridSizeByZoom) {
		zoom = len(p.GridSizeByZoom) - 1
	}
	if zoom < 0 {
		zoom = 0
	}
	return p.GridSizeByZoom[zoom]
}

// ZoomLevels returns the length of the tessellation table; the traversal
// stops splitting one level short of it.
func (p *Provider) ZoomLevels() int { return len(p.GridSizeByZoom) }

// Request schedules a tile load. Returns false if the load was not
// accepted (already pending, provider closed, or the queue is full); the
// caller may retry on a later frame.
func (p *Provider) Request(key Key) bool {
	p.mu.Lock()
	if p.closed || p.pending[key] {
		p.mu.Unlock()
		return false
	}
	p.pending[key] = true
	p.mu.Unlock()

	select {
	case p.jobs <- key:
		return true
	default:
		p.mu.Lock()
		delete(p.pending, key)
		p.mu.Unlock()
		return false
	}
}

// Drain delivers all buffered completions to apply, on the caller's
// goroutine. Call once per frame before traversal.
func (p *Provider) Drain(apply func(Result)) {
	for {
		select {
		case res := <-p.done:
			p.mu.Lock()
			delete(p.pending, res.Key)
			p.mu.Unlock()
			if res.Tile != nil {
				p.cache.Add(res.Key, res.Tile)
			}
			apply(res)
		default:
			return
		}
	}
}

// Close stops the workers. Pending completions can still be drained.
func (p *Provider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.jobs)
	p.wg.Wait()
}

func (p *Provider) worker() {
	defer p.wg.Done()
	for key := range p.jobs {
		p.done <- p.load(key)
	}
}

func (p *Provider) load(key Key) Result {
	if tile, ok := p.cache.Get(key); ok {
		return Result{Key: key, Tile: tile, Exists: true}
	}

	data, format, err := p.source.FetchTile(key.Z, key.X, key.Y)
	if err != nil {
		if err != ErrTileNotFound {
			log.WithFields(log.Fields{"z": key.Z, "x": key.X, "y": key.Y}).
				WithError(err).Warn("terrain fetch failed")
		}
		return Result{Key: key, Err: err}
	}

	tile, err := DecodeTile(data, format, p.FileGridSize)
	if err != nil {
		log.WithFields(log.Fields{"z": key.Z, "x": key.X, "y": key.Y}).
			WithError(err).Warn("terrain decode failed")
		return Result{Key: key, Err: err}
	}
	return Result{Key: key, Tile: tile, Exists: true}
}
