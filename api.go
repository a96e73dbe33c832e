// Package nachosfs defines the collaborators a file header works against and
// the errors shared by every package in this module.
package nachosfs

import c "github.com/nthustraydog/nachosfs/file_systems/common"

// SectorDevice is the interface for synchronous, fixed-size sector I/O.
//
// Implementations must read or write exactly one whole sector per call. The
// buffer passed to ReadSector and WriteSector is always SectorSize() bytes.
// There is no queueing; when a call returns the transfer is complete.
type SectorDevice interface {
	// SectorSize returns the size of a single sector, in bytes.
	SectorSize() uint
	// NumSectors returns the total number of sectors on the device.
	NumSectors() uint
	// ReadSector fills `buffer` with the contents of sector `sector`.
	ReadSector(sector c.SectorNumber, buffer []byte) error
	// WriteSector replaces the contents of sector `sector` with `buffer`.
	WriteSector(sector c.SectorNumber, buffer []byte) error
}

// FreeMap is the interface for the shared free-sector allocator.
//
// A FreeMap may be shared by many files at once, so every method must be
// atomic with respect to the others. File headers never lock it themselves.
type FreeMap interface {
	// NumClear returns the number of sectors not currently allocated.
	NumClear() uint
	// Test returns true if `sector` is marked allocated.
	Test(sector c.SectorNumber) bool
	// FindAndSet marks the first free sector allocated and returns its number.
	// It returns [c.NoSector] if no sector is free.
	FindAndSet() c.SectorNumber
	// Clear marks `sector` free.
	Clear(sector c.SectorNumber)
}
