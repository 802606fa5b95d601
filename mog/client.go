package mog

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
)

// DefaultHeaderTimeout bounds the fetch and parse of one container header.
const DefaultHeaderTimeout = 30 * time.Second

// Client serves tiles out of the containers of a Collection. Container
// headers are fetched once and cached; tile bytes are fetched on every call.
// A Client is safe for concurrent use.
type Client struct {
	collection    *Collection
	source        ByteSource
	cache         *metadataCache
	budget        int64
	cacheSize     int
	headerTimeout time.Duration
	logger        *slog.Logger
	metrics       *Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithOverFetchBudget sets the gap bridged when merging tile requests.
func WithOverFetchBudget(budget int64) Option {
	return func(c *Client) { c.budget = budget }
}

// WithMetadataCacheSize sets how many container headers are kept.
func WithMetadataCacheSize(size int) Option {
	return func(c *Client) { c.cacheSize = size }
}

// WithHeaderTimeout bounds how long a container header fetch may take
// before it is abandoned and retried by a later call.
func WithHeaderTimeout(d time.Duration) Option {
	return func(c *Client) { c.headerTimeout = d }
}

// WithLogger sets the logger for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records engine activity in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient returns a client reading containers of collection from source.
func NewClient(collection *Collection, source ByteSource, opts ...Option) (*Client, error) {
	if collection == nil || source == nil {
		return nil, errors.New("mog: collection and source are required")
	}
	c := &Client{
		collection:    collection,
		source:        source,
		budget:        DefaultOverFetchBudget,
		cacheSize:     DefaultMetadataCacheSize,
		headerTimeout: DefaultHeaderTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	cache, err := newMetadataCache(c.cacheSize)
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

// GetTile returns the image of tile (x, y, zoom), or false when it is not
// available for any reason. It never panics on bad coordinates.
func (c *Client) GetTile(ctx context.Context, x, y, zoom int) ([]byte, bool) {
	t, ok := c.Tile(ctx, NewTileCoordinates(x, y, zoom))
	if !ok {
		return nil, false
	}
	return t.Image(), true
}

// Tile fetches the raw tile at coords.
func (c *Client) Tile(ctx context.Context, coords TileCoordinates) (*Tile, bool) {
	m, ok := c.Metadata(ctx, coords)
	if !ok {
		c.metrics.observeTile(false)
		return nil, false
	}
	md, ok := m.TileMetadata(coords)
	if !ok {
		c.logger.Debug("tile not in container", "tile", coords.String(), "url", m.URL)
		c.metrics.observeTile(false)
		return nil, false
	}

	var tile *Tile
	c.fetch(ctx, FetchRequest{URL: m.URL, ByteRange: md.ByteRange, Tiles: []TileMetadata{md}}, func(t *Tile) bool {
		tile = t
		return false
	})
	c.metrics.observeTile(tile != nil)
	return tile, tile != nil
}

// Metadata returns the parsed header of the container holding coords.
func (c *Client) Metadata(ctx context.Context, coords TileCoordinates) (*Mog, bool) {
	if !coords.Valid() || !c.collection.Covers(coords.Zoom) {
		c.logger.Debug("tile outside configured sources", "tile", coords.String())
		return nil, false
	}
	anchor := c.collection.MogBoundsForTile(coords)
	return c.mog(ctx, c.collection.MogURL(anchor), anchor)
}

// GetTiles returns every available tile intersecting bounds for the zooms
// of zooms. Range requests are issued one at a time while the sequence is
// consumed, in ascending byte order per container; breaking out of the loop
// or cancelling ctx stops further requests.
func (c *Client) GetTiles(ctx context.Context, bounds orb.Bound, zooms ZoomRange) iter.Seq2[TileCoordinates, []byte] {
	return func(yield func(TileCoordinates, []byte) bool) {
		for zoom := zooms.Min; zoom <= zooms.Max; zoom++ {
			if !c.collection.Covers(zoom) {
				continue
			}
			for _, g := range c.groupByContainer(TilesInBound(bounds, zoom)) {
				if ctx.Err() != nil {
					return
				}
				m, ok := c.mog(ctx, g.url, g.anchor)
				if !ok {
					continue
				}
				for _, req := range consolidate(m, g.tiles, c.budget) {
					if ctx.Err() != nil {
						return
					}
					stopped := false
					c.fetch(ctx, req, func(t *Tile) bool {
						if !yield(t.Metadata.Coordinates, t.Image()) {
							stopped = true
						}
						return !stopped
					})
					if stopped {
						return
					}
				}
			}
		}
	}
}

type containerTiles struct {
	url    string
	anchor TileCoordinates
	tiles  []TileCoordinates
}

// groupByContainer splits coords by owning container, keeping first-seen order.
func (c *Client) groupByContainer(coords []TileCoordinates) []*containerTiles {
	var groups []*containerTiles
	byURL := make(map[string]*containerTiles)
	for _, t := range coords {
		anchor := c.collection.MogBoundsForTile(t)
		url := c.collection.MogURL(anchor)
		g, ok := byURL[url]
		if !ok {
			g = &containerTiles{url: url, anchor: anchor}
			byURL[url] = g
			groups = append(groups, g)
		}
		g.tiles = append(g.tiles, t)
	}
	return groups
}

// fetch issues req and hands each tile read to yield.
func (c *Client) fetch(ctx context.Context, req FetchRequest, yield func(*Tile) bool) {
	body := c.source.Open(ctx, req.URL, &req.ByteRange)
	defer body.Close()
	readTiles(body, req, c.logger, yield)
}

// mog returns the container at url, fetching its header on first use.
func (c *Client) mog(ctx context.Context, url string, anchor TileCoordinates) (*Mog, bool) {
	f, created := c.cache.getOrCreate(url)
	if created {
		c.metrics.observeMetadata("miss")
		go c.loadMog(context.WithoutCancel(ctx), f, url, anchor)
	} else {
		c.metrics.observeMetadata("hit")
	}
	return f.wait(ctx)
}

// loadMog fetches and parses one container header and completes f.
func (c *Client) loadMog(ctx context.Context, f *mogFuture, url string, anchor TileCoordinates) {
	if c.headerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.headerTimeout)
		defer cancel()
	}
	body := c.source.Open(ctx, url, nil)
	defer body.Close()

	m, n, err := parseMog(newSeekableReader(body, 0), url, anchor)
	switch {
	case err == nil:
		c.logger.Debug("container loaded", "url", url, "levels", len(m.Images), "zooms", m.ZoomRange().String(), "header_bytes", n)
	case IsNotFound(body):
		c.logger.Info("container not found", "url", url)
	case errors.Is(err, ErrMalformed):
		c.logger.Error("malformed container", "url", url, "error", err)
	default:
		// transient failure, let a later call try again
		c.logger.Warn("container unavailable", "url", url, "header_bytes", n, "error", err)
		c.cache.forget(url, f)
	}
	f.complete(m)
}
