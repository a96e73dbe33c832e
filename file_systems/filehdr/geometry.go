package filehdr

import (
	_ "embed"
	"fmt"
	"math"

	"github.com/gocarina/gocsv"
	"github.com/nthustraydog/nachosfs"
	c "github.com/nthustraydog/nachosfs/file_systems/common"
)

// Geometry describes the shape of file headers and indirection sectors on a
// volume. Everything derives from it: the sizes of the on-disk records, the
// windows of logical sectors covered by each tier, and the largest file that
// can be represented.
type Geometry struct {
	Slug string `csv:"slug"`
	// SectorSize is the size of a sector in bytes. File headers and indirection
	// blocks both occupy exactly one sector.
	SectorSize int `csv:"sector_size"`
	// NumDirect is the number of sector pointers stored inline in the header.
	NumDirect int `csv:"num_direct"`
	// NumIndirect is the number of sector pointers in an indirection block.
	NumIndirect int    `csv:"num_indirect"`
	Notes       string `csv:"notes"`
}

// headerFixedWords is the number of int32 fields in a header besides the direct
// pointers: length, sector count, single and double indirect pointers.
const headerFixedWords = 4

// HeaderSize gives the number of meaningful bytes in a serialized header.
func (g Geometry) HeaderSize() int {
	return c.BytesPerSectorNumber * (headerFixedWords + g.NumDirect)
}

// IndirectSize gives the number of meaningful bytes in a serialized
// indirection block.
func (g Geometry) IndirectSize() int {
	return c.BytesPerSectorNumber * (1 + g.NumIndirect)
}

// MaxSectors gives the number of data sectors a single file can span.
func (g Geometry) MaxSectors() int {
	return g.NumDirect + g.NumIndirect + g.NumIndirect*g.NumIndirect
}

// MaxFileSize gives the largest file size representable, in bytes. Sizes are
// stored as int32, which caps this for large geometries.
func (g Geometry) MaxFileSize() int {
	size := int64(g.MaxSectors()) * int64(g.SectorSize)
	if size > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(size)
}

// NumDataSectors returns the number of data sectors needed to hold `fileSize`
// bytes.
func (g Geometry) NumDataSectors(fileSize int) int {
	return c.DivRoundUp(fileSize, g.SectorSize)
}

// SectorsRequired returns the total number of sectors a file of `fileSize`
// bytes occupies: its data sectors plus every indirection block needed to
// index them. The file header's own sector isn't included.
func (g Geometry) SectorsRequired(fileSize int) int {
	dataSectors := g.NumDataSectors(fileSize)
	total := dataSectors

	if dataSectors > g.NumDirect {
		total++
	}
	if dataSectors > g.NumDirect+g.NumIndirect {
		doubleSectors := dataSectors - g.NumDirect - g.NumIndirect
		total += 1 + c.DivRoundUp(doubleSectors, g.NumIndirect)
	}
	return total
}

// Validate ensures both on-disk records fit in one sector.
func (g Geometry) Validate() error {
	if g.SectorSize <= 0 || g.SectorSize%c.BytesPerSectorNumber != 0 {
		return nachosfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"sector size must be a positive multiple of %d, got %d",
				c.BytesPerSectorNumber,
				g.SectorSize,
			),
		)
	}
	if g.NumDirect < 0 || g.NumIndirect <= 0 {
		return nachosfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"need NumDirect >= 0 and NumIndirect > 0, got %d and %d",
				g.NumDirect,
				g.NumIndirect,
			),
		)
	}
	if g.HeaderSize() > g.SectorSize {
		return nachosfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"file header needs %d bytes but a sector is only %d",
				g.HeaderSize(),
				g.SectorSize,
			),
		)
	}
	if g.IndirectSize() > g.SectorSize {
		return nachosfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"indirection block needs %d bytes but a sector is only %d",
				g.IndirectSize(),
				g.SectorSize,
			),
		)
	}
	return nil
}

// DeriveGeometry returns the densest geometry for a sector size: every word of
// both the header and the indirection block is used.
func DeriveGeometry(sectorSize int) (Geometry, error) {
	words := sectorSize / c.BytesPerSectorNumber
	g := Geometry{
		Slug:        fmt.Sprintf("derived-%d", sectorSize),
		SectorSize:  sectorSize,
		NumDirect:   words - headerFixedWords,
		NumIndirect: words - 1,
	}
	return g, g.Validate()
}

////////////////////////////////////////////////////////////////////////////////

// DefaultGeometrySlug names the geometry used when none is given.
const DefaultGeometrySlug = "nachos"

//go:embed geometries.csv
var geometriesRawCSV string
var geometries map[string]Geometry
var geometrySlugs []string

// GetPredefinedGeometry looks up one of the geometries in the built-in table.
func GetPredefinedGeometry(slug string) (Geometry, error) {
	geometry, ok := geometries[slug]
	if ok {
		return geometry, nil
	}

	return Geometry{}, nachosfs.ErrNotFound.WithMessage(
		fmt.Sprintf("no predefined geometry exists with slug %q", slug))
}

// DefaultGeometry returns the NachOS geometry: 128-byte sectors, 10 direct
// pointers and 30 pointers per indirection block.
func DefaultGeometry() Geometry {
	return geometries[DefaultGeometrySlug]
}

// PredefinedGeometrySlugs lists the built-in geometries in table order.
func PredefinedGeometrySlugs() []string {
	result := make([]string, len(geometrySlugs))
	copy(result, geometrySlugs)
	return result
}

func init() {
	var rows []Geometry
	err := gocsv.UnmarshalString(geometriesRawCSV, &rows)
	if err != nil {
		panic(fmt.Errorf("failed to decode geometry table: %w", err))
	}

	geometries = make(map[string]Geometry, len(rows))
	for i, row := range rows {
		if _, exists := geometries[row.Slug]; exists {
			panic(fmt.Errorf("duplicate definition for geometry %q on row %d", row.Slug, i+1))
		}
		if err = row.Validate(); err != nil {
			panic(fmt.Errorf("geometry %q on row %d is invalid: %w", row.Slug, i+1, err))
		}
		geometries[row.Slug] = row
		geometrySlugs = append(geometrySlugs, row.Slug)
	}

	if _, ok := geometries[DefaultGeometrySlug]; !ok {
		panic(fmt.Errorf("geometry table is missing %q", DefaultGeometrySlug))
	}
}
