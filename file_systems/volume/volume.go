// Package volume ties file headers and the free map together on a single
// device.
//
// The layout is minimal. The free map occupies sectors [0, k), where k is
// just enough sectors to hold one bit per sector on the device. Every other
// sector is either free or belongs to some file: its header, its data, or one
// of its indirection blocks. Files are identified by the sector holding their
// header; there are no directories.
package volume

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/nthustraydog/nachosfs"
	c "github.com/nthustraydog/nachosfs/file_systems/common"
	"github.com/nthustraydog/nachosfs/file_systems/common/freemap"
	"github.com/nthustraydog/nachosfs/file_systems/filehdr"
	"github.com/sirupsen/logrus"
)

// FreeMapSector is where the persisted free map starts.
const FreeMapSector = c.SectorNumber(0)

// Flusher is implemented by devices that buffer writes.
type Flusher interface {
	Flush() error
}

type Volume struct {
	device         nachosfs.SectorDevice
	geometry       filehdr.Geometry
	freeMap        *freemap.FreeMap
	freeMapSectors uint
}

// FileInfo describes a file on the volume.
type FileInfo struct {
	HeaderSector c.SectorNumber
	Length       int
	// DataSectors is the number of sectors holding the file's contents.
	DataSectors int
	// TotalSectors includes the header and every indirection block.
	TotalSectors int
}

func checkGeometry(device nachosfs.SectorDevice, geometry filehdr.Geometry) error {
	err := geometry.Validate()
	if err != nil {
		return err
	}
	if uint(geometry.SectorSize) != device.SectorSize() {
		return nachosfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"geometry %q needs %d-byte sectors, device has %d",
				geometry.Slug,
				geometry.SectorSize,
				device.SectorSize()))
	}
	return nil
}

// Format writes an empty free map to `device`, marking only the free map's own
// sectors as used, and returns the new volume.
func Format(device nachosfs.SectorDevice, geometry filehdr.Geometry) (*Volume, error) {
	err := checkGeometry(device, geometry)
	if err != nil {
		return nil, err
	}

	totalSectors := device.NumSectors()
	mapSectors := freemap.SizeInSectors(totalSectors, device.SectorSize())
	if mapSectors >= totalSectors {
		return nil, nachosfs.ErrNoSpaceOnDevice.WithMessage(
			fmt.Sprintf(
				"free map needs %d sectors, device only has %d",
				mapSectors,
				totalSectors))
	}

	fm := freemap.New(totalSectors)
	for i := uint(0); i < mapSectors; i++ {
		err = fm.Mark(FreeMapSector + c.SectorNumber(i))
		if err != nil {
			return nil, err
		}
	}

	err = fm.WriteBack(device, FreeMapSector)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"geometry":       geometry.Slug,
		"sectors":        totalSectors,
		"freeMapSectors": mapSectors,
	}).Info("formatted volume")

	return &Volume{
		device:         device,
		geometry:       geometry,
		freeMap:        fm,
		freeMapSectors: mapSectors,
	}, nil
}

// Open loads the free map from a device previously set up with [Format].
func Open(device nachosfs.SectorDevice, geometry filehdr.Geometry) (*Volume, error) {
	err := checkGeometry(device, geometry)
	if err != nil {
		return nil, err
	}

	totalSectors := device.NumSectors()
	mapSectors := freemap.SizeInSectors(totalSectors, device.SectorSize())
	if mapSectors >= totalSectors {
		return nil, nachosfs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("device of %d sectors is too small to be a volume", totalSectors))
	}

	fm, err := freemap.FetchFrom(device, FreeMapSector, totalSectors)
	if err != nil {
		return nil, err
	}

	for i := uint(0); i < mapSectors; i++ {
		if !fm.Test(FreeMapSector + c.SectorNumber(i)) {
			return nil, nachosfs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("free map sector %d is marked free", i))
		}
	}

	return &Volume{
		device:         device,
		geometry:       geometry,
		freeMap:        fm,
		freeMapSectors: mapSectors,
	}, nil
}

func (v *Volume) Geometry() filehdr.Geometry {
	return v.geometry
}

// FreeSectors returns the number of unallocated sectors.
func (v *Volume) FreeSectors() uint {
	return v.freeMap.NumClear()
}

// CreateFile allocates a header sector and enough sectors to hold `fileSize`
// bytes, writes the header, and persists the free map. It returns the header's
// sector, which identifies the file from then on.
//
// If anything fails, every sector taken for the file is released again.
func (v *Volume) CreateFile(fileSize int) (c.SectorNumber, error) {
	headerSector := v.freeMap.FindAndSet()
	if headerSector == c.NoSector {
		return c.NoSector, nachosfs.ErrNoSpaceOnDevice.WithMessage(
			"no free sector for the file header")
	}

	header := filehdr.New(v.geometry)
	err := header.Allocate(v.device, v.freeMap, fileSize)
	if err != nil {
		v.freeMap.Clear(headerSector)
		return c.NoSector, err
	}

	err = header.WriteBack(v.device, headerSector)
	if err != nil {
		result := multierror.Append(err, header.Deallocate(v.device, v.freeMap))
		v.freeMap.Clear(headerSector)
		return c.NoSector, nachosfs.CastToDriverError(result.ErrorOrNil())
	}

	logrus.WithFields(logrus.Fields{
		"header":  headerSector,
		"size":    fileSize,
		"sectors": header.NumSectors(),
	}).Debug("created file")

	return headerSector, v.persistFreeMap()
}

// loadHeader reads the header at `headerSector`, making sure the sector could
// actually hold one.
func (v *Volume) loadHeader(headerSector c.SectorNumber) (*filehdr.FileHeader, error) {
	if headerSector < FreeMapSector+c.SectorNumber(v.freeMapSectors) ||
		uint(headerSector) >= v.device.NumSectors() {
		return nil, nachosfs.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"sector %d can't hold a file header: not in range [%d, %d)",
				headerSector,
				v.freeMapSectors,
				v.device.NumSectors()))
	}
	if !v.freeMap.Test(headerSector) {
		return nil, nachosfs.ErrNotFound.WithMessage(
			fmt.Sprintf("sector %d is free", headerSector))
	}
	return filehdr.Load(v.device, v.geometry, headerSector)
}

// RemoveFile releases every sector belonging to the file whose header is at
// `headerSector`, including the header's own, and persists the free map.
func (v *Volume) RemoveFile(headerSector c.SectorNumber) error {
	header, err := v.loadHeader(headerSector)
	if err != nil {
		return err
	}

	err = header.Deallocate(v.device, v.freeMap)
	if err != nil {
		return err
	}
	v.freeMap.Clear(headerSector)

	logrus.WithFields(logrus.Fields{
		"header": headerSector,
		"size":   header.FileLength(),
	}).Debug("removed file")

	return v.persistFreeMap()
}

// ByteToSector returns the sector holding byte `offset` of a file. Unlike
// [filehdr.FileHeader.ByteToSector], an offset outside the file is an error
// rather than a panic, since it usually comes straight from the user.
func (v *Volume) ByteToSector(headerSector c.SectorNumber, offset int) (c.SectorNumber, error) {
	header, err := v.loadHeader(headerSector)
	if err != nil {
		return c.NoSector, err
	}

	if offset < 0 || offset >= header.FileLength() {
		return c.NoSector, nachosfs.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"offset %d not in range [0, %d)", offset, header.FileLength()))
	}
	return header.ByteToSector(v.device, offset)
}

// Stat describes the file whose header is at `headerSector`.
func (v *Volume) Stat(headerSector c.SectorNumber) (FileInfo, error) {
	header, err := v.loadHeader(headerSector)
	if err != nil {
		return FileInfo{}, err
	}

	return FileInfo{
		HeaderSector: headerSector,
		Length:       header.FileLength(),
		DataSectors:  header.NumSectors(),
		TotalSectors: 1 + v.geometry.SectorsRequired(header.FileLength()),
	}, nil
}

// Dump writes a description of the file at `headerSector` to `w`.
func (v *Volume) Dump(headerSector c.SectorNumber, w io.Writer) error {
	header, err := v.loadHeader(headerSector)
	if err != nil {
		return err
	}
	return header.Dump(w, v.device)
}

func (v *Volume) persistFreeMap() error {
	return v.freeMap.WriteBack(v.device, FreeMapSector)
}

// Flush persists the free map and, if the device buffers writes, flushes it.
// Both are attempted even if the first fails.
func (v *Volume) Flush() error {
	var result *multierror.Error

	err := v.persistFreeMap()
	if err != nil {
		result = multierror.Append(result, err)
	}

	if flusher, ok := v.device.(Flusher); ok {
		err = flusher.Flush()
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	return nachosfs.CastToDriverError(result.ErrorOrNil())
}
