package testing

import (
	"fmt"

	"github.com/nthustraydog/nachosfs"
	c "github.com/nthustraydog/nachosfs/file_systems/common"
)

// FlakyDevice wraps a [nachosfs.SectorDevice] and starts failing every write
// once WritesBeforeFailure writes have succeeded. A negative value never fails.
type FlakyDevice struct {
	nachosfs.SectorDevice
	WritesBeforeFailure int
	writes              int
}

func (d *FlakyDevice) WriteSector(sector c.SectorNumber, buffer []byte) error {
	if d.WritesBeforeFailure >= 0 && d.writes >= d.WritesBeforeFailure {
		return nachosfs.ErrIOFailed.WithMessage(
			fmt.Sprintf("injected failure writing sector %d", sector))
	}
	d.writes++
	return d.SectorDevice.WriteSector(sector, buffer)
}

// StingyFreeMap wraps a [nachosfs.FreeMap] and refuses to hand out more than
// Budget sectors, while still reporting the wrapped map's free count. It
// stands in for another file grabbing sectors from a shared map between the
// space check and the allocation.
type StingyFreeMap struct {
	nachosfs.FreeMap
	Budget int
}

func (m *StingyFreeMap) FindAndSet() c.SectorNumber {
	if m.Budget <= 0 {
		return c.NoSector
	}
	m.Budget--
	return m.FreeMap.FindAndSet()
}
