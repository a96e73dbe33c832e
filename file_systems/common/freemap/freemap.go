// Package freemap implements a persistent bitmap of allocated sectors.
//
// A FreeMap is shared by every file on a volume, so all of its methods take a
// lock. A set bit means the sector is in use.
package freemap

import (
	"fmt"
	"sync"

	"github.com/boljen/go-bitmap"
	"github.com/noxer/bytewriter"
	"github.com/nthustraydog/nachosfs"
	c "github.com/nthustraydog/nachosfs/file_systems/common"
)

type FreeMap struct {
	lock       sync.Mutex
	bits       bitmap.Bitmap
	numClear   uint
	totalUnits uint
}

var _ nachosfs.FreeMap = (*FreeMap)(nil)

// New creates a new free map with all bits cleared.
func New(totalSectors uint) *FreeMap {
	return &FreeMap{
		bits:       bitmap.New(int(totalSectors)),
		numClear:   totalSectors,
		totalUnits: totalSectors,
	}
}

// NewFromInUseBitmap creates a free map starting from an existing bitmap that
// indicates which sectors are in use. Bits past `totalSectors` are ignored.
func NewFromInUseBitmap(inUseMap []byte, totalSectors uint) *FreeMap {
	fm := New(totalSectors)
	for i := 0; i < int(totalSectors); i++ {
		if bitmap.Get(inUseMap, i) {
			fm.bits.Set(i, true)
			fm.numClear--
		}
	}
	return fm
}

// NumSectors returns the number of sectors the map tracks.
func (fm *FreeMap) NumSectors() uint {
	return fm.totalUnits
}

// NumClear returns the number of free sectors.
func (fm *FreeMap) NumClear() uint {
	fm.lock.Lock()
	defer fm.lock.Unlock()
	return fm.numClear
}

func (fm *FreeMap) checkSector(sector c.SectorNumber) {
	if sector < 0 || uint(sector) >= fm.totalUnits {
		panic(fmt.Sprintf(
			"invalid sector number: %d not in range [0, %d)", sector, fm.totalUnits))
	}
}

// Test returns true if `sector` is allocated. Out of range sectors panic.
func (fm *FreeMap) Test(sector c.SectorNumber) bool {
	fm.checkSector(sector)

	fm.lock.Lock()
	defer fm.lock.Unlock()
	return fm.bits.Get(int(sector))
}

// Mark allocates a specific sector. Marking a sector that's already in use
// returns an error and changes nothing.
func (fm *FreeMap) Mark(sector c.SectorNumber) error {
	fm.checkSector(sector)

	fm.lock.Lock()
	defer fm.lock.Unlock()

	if fm.bits.Get(int(sector)) {
		return nachosfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("sector %d is already in use", sector))
	}
	fm.bits.Set(int(sector), true)
	fm.numClear--
	return nil
}

// FindAndSet allocates the lowest-numbered free sector and returns its number.
// If no sectors are free, it returns [c.NoSector].
func (fm *FreeMap) FindAndSet() c.SectorNumber {
	fm.lock.Lock()
	defer fm.lock.Unlock()

	if fm.numClear == 0 {
		return c.NoSector
	}

	for i := 0; i < int(fm.totalUnits); i++ {
		if !fm.bits.Get(i) {
			fm.bits.Set(i, true)
			fm.numClear--
			return c.SectorNumber(i)
		}
	}

	// numClear says there's a free sector but we didn't find one.
	panic(fmt.Sprintf("free map corrupted: %d sectors claimed free, none found", fm.numClear))
}

// Clear frees an allocated sector. Clearing a sector that isn't allocated is a
// bookkeeping error somewhere else, so it panics.
func (fm *FreeMap) Clear(sector c.SectorNumber) {
	fm.checkSector(sector)

	fm.lock.Lock()
	defer fm.lock.Unlock()

	if !fm.bits.Get(int(sector)) {
		panic(fmt.Sprintf("sector %d is already free", sector))
	}
	fm.bits.Set(int(sector), false)
	fm.numClear++
}

// SizeInSectors returns the number of sectors needed to persist a map of
// `totalSectors` bits on a device with `sectorSize`-byte sectors.
func SizeInSectors(totalSectors, sectorSize uint) uint {
	numBytes := uint(len(bitmap.New(int(totalSectors))))
	return (numBytes + sectorSize - 1) / sectorSize
}

// WriteBack persists the map to consecutive sectors starting at `first`.
func (fm *FreeMap) WriteBack(device nachosfs.SectorDevice, first c.SectorNumber) error {
	sectorSize := device.SectorSize()
	numSectors := SizeInSectors(fm.totalUnits, sectorSize)

	fm.lock.Lock()
	image := make([]byte, numSectors*sectorSize)
	_, err := bytewriter.New(image).Write(fm.bits.Data(false))
	fm.lock.Unlock()
	if err != nil {
		return nachosfs.ErrIOFailed.Wrap(err)
	}

	for i := uint(0); i < numSectors; i++ {
		start := i * sectorSize
		err = device.WriteSector(first+c.SectorNumber(i), image[start:start+sectorSize])
		if err != nil {
			return nachosfs.CastToDriverError(err)
		}
	}
	return nil
}

// FetchFrom reads a map of `totalSectors` bits persisted by [FreeMap.WriteBack]
// starting at sector `first`.
func FetchFrom(
	device nachosfs.SectorDevice, first c.SectorNumber, totalSectors uint,
) (*FreeMap, error) {
	sectorSize := device.SectorSize()
	numSectors := SizeInSectors(totalSectors, sectorSize)

	image := make([]byte, numSectors*sectorSize)
	for i := uint(0); i < numSectors; i++ {
		start := i * sectorSize
		err := device.ReadSector(first+c.SectorNumber(i), image[start:start+sectorSize])
		if err != nil {
			return nil, nachosfs.CastToDriverError(err)
		}
	}
	return NewFromInUseBitmap(image, totalSectors), nil
}
