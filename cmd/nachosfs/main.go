package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:  "nachosfs",
		Usage: "Manage NachOS-style disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "geometry",
				Aliases: []string{"g"},
				Usage:   "predefined geometry of the image (see `geometries`)",
				Value:   "nachos",
				EnvVars: []string{"NACHOSFS_GEOMETRY"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log every sector allocated and freed",
			},
		},
		Before: func(ctx *cli.Context) error {
			if ctx.Bool("verbose") {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create or wipe an image",
				Action:    formatImage,
				ArgsUsage: "IMAGE",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:    "sectors",
						Aliases: []string{"n"},
						Usage:   "size of the image, in sectors",
						Value:   1024,
					},
				},
			},
			{
				Name:      "create",
				Usage:     "Allocate a file and print the sector of its header",
				Action:    createFile,
				ArgsUsage: "IMAGE SIZE",
			},
			{
				Name:      "remove",
				Usage:     "Release a file and every sector it owns",
				Action:    removeFile,
				ArgsUsage: "IMAGE HEADER_SECTOR",
			},
			{
				Name:      "map",
				Usage:     "Print the sector holding a byte of a file",
				Action:    mapOffset,
				ArgsUsage: "IMAGE HEADER_SECTOR OFFSET",
			},
			{
				Name:      "stat",
				Usage:     "Show the size of a file and the sectors it occupies",
				Action:    statFile,
				ArgsUsage: "IMAGE HEADER_SECTOR",
			},
			{
				Name:      "dump",
				Usage:     "Print a file's sectors and contents",
				Action:    dumpFile,
				ArgsUsage: "IMAGE HEADER_SECTOR",
			},
			{
				Name:   "geometries",
				Usage:  "List the predefined geometries",
				Action: listGeometries,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		logrus.Fatalf("fatal error: %s", err.Error())
	}
}
