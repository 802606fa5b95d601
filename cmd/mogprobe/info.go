package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/google/subcommands"

	"github.com/akhenakh/mogtiles/mog"
)

type infoCmd struct {
	collectionFlags
	z, x, y int
}

func (c *infoCmd) Name() string     { return "info" }
func (c *infoCmd) Synopsis() string { return "print the container layout holding a tile" }
func (c *infoCmd) Usage() string {
	return "mogprobe info -z <zoom> -x <x> -y <y> [-world <url> -region <template>]\n"
}
func (c *infoCmd) SetFlags(f *flag.FlagSet) {
	c.collectionFlags.SetFlags(f)
	f.IntVar(&c.z, "z", 0, "Tile zoom")
	f.IntVar(&c.x, "x", 0, "Tile column")
	f.IntVar(&c.y, "y", 0, "Tile row")
}

func (c *infoCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	client, err := c.client()
	if err != nil {
		log.Println(err)
		return subcommands.ExitUsageError
	}

	coords := mog.NewTileCoordinates(c.x, c.y, c.z)
	m, ok := client.Metadata(ctx, coords)
	if !ok {
		log.Printf("no container available for tile %s", coords)
		return subcommands.ExitFailure
	}

	fmt.Printf("container: %s\n", m.URL)
	fmt.Printf("anchor:    %s\n", m.Anchor)
	fmt.Printf("zooms:     %s\n", m.ZoomRange())
	for _, img := range m.Images {
		fmt.Printf("  z%-2d origin %-14s %dx%d px, %dx%d tiles of %dx%d, compression %d\n",
			img.Zoom(), img.Origin, img.ImageWidth, img.ImageHeight,
			img.TilesAcross(), img.TilesDown(), img.TileWidth, img.TileHeight, img.Compression)
	}

	if md, ok := m.TileMetadata(coords); ok {
		fmt.Printf("tile %s: %s (%d bytes)\n", coords, md.ByteRange.Header(), md.ByteRange.Len())
	} else {
		fmt.Printf("tile %s: not stored\n", coords)
	}
	return subcommands.ExitSuccess
}
