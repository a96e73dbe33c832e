package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/nthustraydog/nachosfs"
	c "github.com/nthustraydog/nachosfs/file_systems/common"
	"github.com/nthustraydog/nachosfs/file_systems/common/blockcache"
	"github.com/nthustraydog/nachosfs/file_systems/filehdr"
	"github.com/nthustraydog/nachosfs/file_systems/volume"
	"github.com/urfave/cli/v2"
)

func selectedGeometry(ctx *cli.Context) (filehdr.Geometry, error) {
	return filehdr.GetPredefinedGeometry(ctx.String("geometry"))
}

func intArg(ctx *cli.Context, index int, name string) (int, error) {
	raw := ctx.Args().Get(index)
	if raw == "" {
		return 0, cli.Exit(fmt.Sprintf("missing argument %s", name), 2)
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, cli.Exit(fmt.Sprintf("%s must be an integer, got %q", name, raw), 2)
	}
	return value, nil
}

func sectorArg(ctx *cli.Context, index int) (c.SectorNumber, error) {
	value, err := intArg(ctx, index, "HEADER_SECTOR")
	return c.SectorNumber(value), err
}

// withVolume opens the image named by the first argument, runs `action` on it,
// and flushes it afterwards.
func withVolume(ctx *cli.Context, action func(*volume.Volume) error) error {
	path := ctx.Args().First()
	if path == "" {
		return cli.Exit("missing argument IMAGE", 2)
	}

	geometry, err := selectedGeometry(ctx)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nachosfs.CastToDriverError(err)
	}
	defer file.Close()

	device, err := blockcache.WrapStreamWithInferredSize(file, uint(geometry.SectorSize))
	if err != nil {
		return err
	}

	vol, err := volume.Open(device, geometry)
	if err != nil {
		return err
	}

	err = action(vol)
	if err != nil {
		return err
	}
	return vol.Flush()
}

func formatImage(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return cli.Exit("missing argument IMAGE", 2)
	}

	geometry, err := selectedGeometry(ctx)
	if err != nil {
		return err
	}
	numSectors := ctx.Uint("sectors")

	file, err := os.Create(path)
	if err != nil {
		return nachosfs.CastToDriverError(err)
	}
	defer file.Close()

	err = file.Truncate(int64(numSectors) * int64(geometry.SectorSize))
	if err != nil {
		return nachosfs.CastToDriverError(err)
	}

	device := blockcache.WrapStream(file, uint(geometry.SectorSize), numSectors)
	vol, err := volume.Format(device, geometry)
	if err != nil {
		return err
	}

	fmt.Printf(
		"%s: %d sectors of %d bytes, %d free\n",
		path,
		numSectors,
		geometry.SectorSize,
		vol.FreeSectors())
	return vol.Flush()
}

func createFile(ctx *cli.Context) error {
	size, err := intArg(ctx, 1, "SIZE")
	if err != nil {
		return err
	}

	return withVolume(ctx, func(vol *volume.Volume) error {
		headerSector, err := vol.CreateFile(size)
		if err != nil {
			return err
		}
		fmt.Println(headerSector)
		return nil
	})
}

func removeFile(ctx *cli.Context) error {
	headerSector, err := sectorArg(ctx, 1)
	if err != nil {
		return err
	}

	return withVolume(ctx, func(vol *volume.Volume) error {
		return vol.RemoveFile(headerSector)
	})
}

func mapOffset(ctx *cli.Context) error {
	headerSector, err := sectorArg(ctx, 1)
	if err != nil {
		return err
	}
	offset, err := intArg(ctx, 2, "OFFSET")
	if err != nil {
		return err
	}

	return withVolume(ctx, func(vol *volume.Volume) error {
		sector, err := vol.ByteToSector(headerSector, offset)
		if err != nil {
			return err
		}
		fmt.Println(sector)
		return nil
	})
}

func statFile(ctx *cli.Context) error {
	headerSector, err := sectorArg(ctx, 1)
	if err != nil {
		return err
	}

	return withVolume(ctx, func(vol *volume.Volume) error {
		info, err := vol.Stat(headerSector)
		if err != nil {
			return err
		}
		fmt.Printf(
			"header %d: %d bytes in %d data sectors, %d sectors total\n",
			info.HeaderSector,
			info.Length,
			info.DataSectors,
			info.TotalSectors)
		return nil
	})
}

func dumpFile(ctx *cli.Context) error {
	headerSector, err := sectorArg(ctx, 1)
	if err != nil {
		return err
	}

	return withVolume(ctx, func(vol *volume.Volume) error {
		return vol.Dump(headerSector, os.Stdout)
	})
}

func listGeometries(ctx *cli.Context) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tSECTOR\tDIRECT\tINDIRECT\tMAX FILE\tNOTES")
	for _, slug := range filehdr.PredefinedGeometrySlugs() {
		g, err := filehdr.GetPredefinedGeometry(slug)
		if err != nil {
			return err
		}
		fmt.Fprintf(
			w,
			"%s\t%d\t%d\t%d\t%d\t%s\n",
			g.Slug,
			g.SectorSize,
			g.NumDirect,
			g.NumIndirect,
			g.MaxFileSize(),
			g.Notes)
	}
	return w.Flush()
}
