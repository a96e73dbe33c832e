package filehdr

import (
	"fmt"

	"github.com/nthustraydog/nachosfs"
	c "github.com/nthustraydog/nachosfs/file_systems/common"
)

// PhysicalSector returns the sector holding logical sector `logical` of the
// file. Indirection blocks are read from `device` on every call.
//
// `logical` must be in [0, NumSectors()); anything else means the caller has
// lost track of the file's size, and PhysicalSector panics.
func (h *FileHeader) PhysicalSector(
	device nachosfs.SectorDevice, logical int,
) (c.SectorNumber, error) {
	g := h.geometry
	if logical < 0 || logical >= h.numSectors {
		panic(fmt.Sprintf(
			"logical sector %d not in range [0, %d)", logical, h.numSectors))
	}

	if logical < g.NumDirect {
		return h.direct[logical].MustGet(), nil
	}

	if logical < g.NumDirect+g.NumIndirect {
		single, err := readIndirectBlock(device, g, h.singleIndirect.MustGet())
		if err != nil {
			return c.NoSector, err
		}
		return single.Entry(logical - g.NumDirect), nil
	}

	relative := logical - g.NumDirect - g.NumIndirect
	double, err := readIndirectBlock(device, g, h.doubleIndirect.MustGet())
	if err != nil {
		return c.NoSector, err
	}

	sub, err := readIndirectBlock(device, g, double.Entry(relative/g.NumIndirect))
	if err != nil {
		return c.NoSector, err
	}
	return sub.Entry(relative % g.NumIndirect), nil
}

// ByteToSector returns the sector storing the byte at `offset` within the
// file. This is the translation from a virtual address (the offset in the
// file) to a physical address (the sector where the data lives).
func (h *FileHeader) ByteToSector(
	device nachosfs.SectorDevice, offset int,
) (c.SectorNumber, error) {
	if offset < 0 {
		panic(fmt.Sprintf("negative file offset %d", offset))
	}
	return h.PhysicalSector(device, offset/h.geometry.SectorSize)
}
