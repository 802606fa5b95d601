package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gen2brain/webp"
	"github.com/karlseguin/ccache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/akhenakh/mogtiles/mog"
)

var errTileNotFound = errors.New("tile not found")

type tileServerConfig struct {
	cacheMaxSize      int64
	cacheItemsToPrune uint32
	cacheTTL          time.Duration
	webpQuality       int
}

// tileServer answers tile requests out of a mog.Client, keeping encoded
// responses in a TTL cache.
type tileServer struct {
	client *mog.Client
	logger *slog.Logger
	cfg    tileServerConfig

	tileCache *ccache.Cache[[]byte]

	// inflight collapses concurrent requests for the same encoded tile so
	// a cold tile is fetched and transcoded once.
	inflight singleflight.Group

	duration *prometheus.HistogramVec
	cacheHit *prometheus.CounterVec
}

func newTileServer(client *mog.Client, logger *slog.Logger, cfg tileServerConfig, reg prometheus.Registerer) *tileServer {
	if cfg.webpQuality <= 0 {
		cfg.webpQuality = 85
	}
	ts := &tileServer{
		client: client,
		logger: logger,
		cfg:    cfg,
		tileCache: ccache.New(ccache.Configure[[]byte]().
			MaxSize(cfg.cacheMaxSize).
			ItemsToPrune(cfg.cacheItemsToPrune)),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tile_request_duration_seconds",
			Help:    "Duration of tile HTTP requests.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.3, 0.6, 1, 3},
		}, []string{"code"}),
		cacheHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tile_cache_lookups_total",
			Help: "Encoded tile cache lookups, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(ts.duration, ts.cacheHit)
	}
	return ts
}

// instrumented wraps the tile handler with the request duration histogram.
func (ts *tileServer) instrumented() http.Handler {
	return promhttp.InstrumentHandlerDuration(ts.duration, http.HandlerFunc(ts.handleTile))
}

// tileFormat is the encoding a tile is served in.
type tileFormat string

const (
	formatNative tileFormat = ""
	formatWebP   tileFormat = "webp"
)

func (ts *tileServer) handleTile(w http.ResponseWriter, r *http.Request) {
	coords, format, err := parseTileRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := ts.getTileData(r, coords, format)
	switch {
	case errors.Is(err, errTileNotFound):
		http.Error(w, "tile not found", http.StatusNotFound)
		return
	case err != nil:
		ts.logger.Error("failed to serve tile", "tile", coords.String(), "format", string(format), "error", err)
		http.Error(w, "could not encode tile", http.StatusInternalServerError)
		return
	}

	contentType := http.DetectContentType(data)
	if format == formatWebP {
		contentType = "image/webp"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

// getTileData returns the encoded tile from the cache, fetching it from
// the containers on a miss.
func (ts *tileServer) getTileData(r *http.Request, coords mog.TileCoordinates, format tileFormat) ([]byte, error) {
	key := coords.String() + "/" + string(format)
	item := ts.tileCache.Get(key)
	if item != nil && !item.Expired() {
		ts.cacheHit.WithLabelValues("hit").Inc()
		return item.Value(), nil
	}
	ts.cacheHit.WithLabelValues("miss").Inc()

	v, err, _ := ts.inflight.Do(key, func() (interface{}, error) {
		// detached so one client going away does not fail the others
		data, ok := ts.client.GetTile(context.WithoutCancel(r.Context()), coords.X, coords.Y, coords.Zoom)
		if !ok {
			return nil, errTileNotFound
		}
		if format == formatWebP {
			var err error
			if data, err = ts.toWebP(data); err != nil {
				return nil, err
			}
		}
		ts.tileCache.Set(key, data, ts.cfg.cacheTTL)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (ts *tileServer) toWebP(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding tile: %w", err)
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: ts.cfg.webpQuality}); err != nil {
		return nil, fmt.Errorf("encoding webp: %w", err)
	}
	return buf.Bytes(), nil
}

// parseTileRequest reads z, x and y from the path. y may carry an image
// extension; ".webp" or ?format=webp ask for WebP.
func parseTileRequest(r *http.Request) (mog.TileCoordinates, tileFormat, error) {
	format := formatNative
	ys := r.PathValue("y")
	switch ext := path.Ext(ys); ext {
	case "":
	case ".jpg", ".jpeg":
		ys = ys[:len(ys)-len(ext)]
	case ".webp":
		ys = ys[:len(ys)-len(ext)]
		format = formatWebP
	default:
		return mog.TileCoordinates{}, "", fmt.Errorf("unsupported extension %q", ext)
	}
	switch f := r.URL.Query().Get("format"); f {
	case "", "jpeg", "jpg":
	case "webp":
		format = formatWebP
	default:
		return mog.TileCoordinates{}, "", fmt.Errorf("unsupported format %q", f)
	}

	var vals [3]int
	for i, s := range []string{r.PathValue("z"), r.PathValue("x"), ys} {
		v, err := strconv.Atoi(s)
		if err != nil {
			return mog.TileCoordinates{}, "", fmt.Errorf("invalid tile coordinate %q", s)
		}
		vals[i] = v
	}
	c := mog.NewTileCoordinates(vals[1], vals[2], vals[0])
	if !c.Valid() {
		return mog.TileCoordinates{}, "", fmt.Errorf("tile %s is outside the tile grid", c)
	}
	return c, format, nil
}
