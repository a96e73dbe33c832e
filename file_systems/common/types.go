// Package common contains definitions of fundamental types and functions used
// across the packages that make up a NachOS-style volume.
package common

import "fmt"

// SectorNumber is the address of a sector on a device. On disk it is always
// stored as a little-endian int32.
type SectorNumber int32

// NoSector is the on-disk representation of "no sector assigned". It never
// appears in memory outside of (de)serialization; use [OptionalSector].
const NoSector = SectorNumber(-1)

// BytesPerSectorNumber is the on-disk width of a [SectorNumber].
const BytesPerSectorNumber = 4

// OptionalSector is a pointer to a sector that may be absent.
type OptionalSector struct {
	sector  SectorNumber
	present bool
}

// Absent is the zero value of [OptionalSector], pointing nowhere.
var Absent = OptionalSector{}

// Some returns an [OptionalSector] pointing at `sector`. Negative numbers can't
// be valid sectors and are treated as absent.
func Some(sector SectorNumber) OptionalSector {
	if sector < 0 {
		return Absent
	}
	return OptionalSector{sector: sector, present: true}
}

// FromRaw converts the on-disk representation into an [OptionalSector]. The
// sentinel maps to [Absent].
func FromRaw(raw int32) OptionalSector {
	return Some(SectorNumber(raw))
}

// Raw returns the on-disk representation, using [NoSector] when absent.
func (s OptionalSector) Raw() int32 {
	if !s.present {
		return int32(NoSector)
	}
	return int32(s.sector)
}

// Get returns the sector number and whether it is present.
func (s OptionalSector) Get() (SectorNumber, bool) {
	return s.sector, s.present
}

// IsPresent returns true if the pointer refers to a sector.
func (s OptionalSector) IsPresent() bool {
	return s.present
}

// MustGet returns the sector number, panicking if it's absent.
func (s OptionalSector) MustGet() SectorNumber {
	if !s.present {
		panic("dereferenced an absent sector pointer")
	}
	return s.sector
}

func (s OptionalSector) String() string {
	if !s.present {
		return "<none>"
	}
	return fmt.Sprintf("%d", s.sector)
}

// DivRoundUp returns ceil(n / size) for non-negative `n`.
func DivRoundUp(n, size int) int {
	return (n + size - 1) / size
}
