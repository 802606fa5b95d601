package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/subcommands"
)

type tileCmd struct {
	collectionFlags
	z, x, y    int
	outputPath string
}

func (c *tileCmd) Name() string     { return "tile" }
func (c *tileCmd) Synopsis() string { return "fetch one tile and write it to a file" }
func (c *tileCmd) Usage() string {
	return "mogprobe tile -z <zoom> -x <x> -y <y> -o <path>\n"
}
func (c *tileCmd) SetFlags(f *flag.FlagSet) {
	c.collectionFlags.SetFlags(f)
	f.IntVar(&c.z, "z", 0, "Tile zoom")
	f.IntVar(&c.x, "x", 0, "Tile column")
	f.IntVar(&c.y, "y", 0, "Tile row")
	f.StringVar(&c.outputPath, "o", "tile.jpg", "Output file path")
}

func (c *tileCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	client, err := c.client()
	if err != nil {
		log.Println(err)
		return subcommands.ExitUsageError
	}

	data, ok := client.GetTile(ctx, c.x, c.y, c.z)
	if !ok {
		log.Printf("tile %d/%d/%d is not available", c.z, c.x, c.y)
		return subcommands.ExitFailure
	}
	if err := os.WriteFile(c.outputPath, data, 0o644); err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	fmt.Printf("wrote %d bytes to %s\n", len(data), c.outputPath)
	return subcommands.ExitSuccess
}
