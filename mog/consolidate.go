package mog

import (
	"cmp"
	"slices"
)

// DefaultOverFetchBudget is the largest gap, in bytes, bridged when two
// tiles are merged into one range request. It is about one average 256px
// JPEG tile.
const DefaultOverFetchBudget = 32 * 1024

// Consolidate groups tiles into the fewest range requests against url,
// merging two consecutive tiles when the bytes between them do not exceed
// budget. Requests are returned in ascending byte order; the tiles of each
// request are in ascending byte order too.
func Consolidate(url string, tiles []TileMetadata, budget int64) []FetchRequest {
	if len(tiles) == 0 {
		return nil
	}
	sorted := slices.Clone(tiles)
	slices.SortStableFunc(sorted, func(a, b TileMetadata) int {
		return cmp.Compare(a.ByteRange.From, b.ByteRange.From)
	})

	var requests []FetchRequest
	for _, t := range sorted {
		if n := len(requests); n > 0 {
			last := &requests[n-1]
			if t.ByteRange.From-last.ByteRange.To-1 <= budget {
				// tiles sharing bytes with the previous one also land here
				last.ByteRange.To = max(last.ByteRange.To, t.ByteRange.To)
				last.Tiles = append(last.Tiles, t)
				continue
			}
		}
		requests = append(requests, FetchRequest{
			URL:       url,
			ByteRange: t.ByteRange,
			Tiles:     []TileMetadata{t},
		})
	}
	return requests
}

// consolidate resolves coords against m, skipping tiles the container does
// not hold, and groups the rest.
func consolidate(m *Mog, coords []TileCoordinates, budget int64) []FetchRequest {
	tiles := make([]TileMetadata, 0, len(coords))
	for _, c := range coords {
		if md, ok := m.TileMetadata(c); ok {
			tiles = append(tiles, md)
		}
	}
	return Consolidate(m.URL, tiles, budget)
}
