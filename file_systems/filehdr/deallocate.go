package filehdr

import (
	"fmt"

	"github.com/nthustraydog/nachosfs"
	c "github.com/nthustraydog/nachosfs/file_systems/common"
	"github.com/sirupsen/logrus"
)

// Deallocate returns every sector the file owns to `freeMap`: the data
// sectors, the indirection blocks under the double indirection block, and the
// single and double indirection blocks themselves. The header's own sector is
// the caller's business.
//
// All indirection blocks are read before anything is freed, so an I/O error
// leaves the free map untouched. A sector that isn't marked allocated means
// the free map and the header disagree, and Deallocate panics.
//
// Afterwards the header's pointers are stale. Discard it.
func (h *FileHeader) Deallocate(device nachosfs.SectorDevice, freeMap nachosfs.FreeMap) error {
	dataSectors, err := h.DataSectors(device)
	if err != nil {
		return err
	}

	indexSectors, err := h.IndexSectors(device)
	if err != nil {
		return err
	}

	for _, sector := range dataSectors {
		release(freeMap, sector, "data")
	}
	for _, sector := range indexSectors {
		release(freeMap, sector, "indirection")
	}

	logrus.Debugf(
		"released %d data and %d indirection sectors",
		len(dataSectors),
		len(indexSectors))
	return nil
}

func release(freeMap nachosfs.FreeMap, sector c.SectorNumber, kind string) {
	if !freeMap.Test(sector) {
		panic(fmt.Sprintf("%s sector %d ought to be marked allocated", kind, sector))
	}
	freeMap.Clear(sector)
}
