package filehdr

import (
	"fmt"

	"github.com/nthustraydog/nachosfs"
	c "github.com/nthustraydog/nachosfs/file_systems/common"
	"github.com/sirupsen/logrus"
)

// allocation tracks one call to [FileHeader.Allocate] so that it can be undone
// if it fails partway through.
type allocation struct {
	header   *FileHeader
	device   nachosfs.SectorDevice
	freeMap  nachosfs.FreeMap
	fileSize int
	acquired []c.SectorNumber
}

// Allocate grows a fresh header to cover `fileSize` bytes, taking sectors from
// `freeMap`. Direct pointers are filled first, then a single indirection
// block, then indirection blocks hanging off a double indirection block. Every
// indirection block is written to `device` as soon as it is created or
// modified.
//
// Before touching anything, Allocate checks that the free map has enough
// sectors for the data and every indirection block it will need, and fails
// with [nachosfs.ErrNoSpaceOnDevice] if it doesn't. If a sector still can't be
// acquired later (the free map is shared) or a write fails, every sector taken
// by this call is released and the header is reset before the error is
// returned.
func (h *FileHeader) Allocate(
	device nachosfs.SectorDevice, freeMap nachosfs.FreeMap, fileSize int,
) error {
	g := h.geometry

	if !h.isFresh() {
		return nachosfs.ErrInvalidArgument.WithMessage(
			"file header already has sectors allocated")
	}
	if fileSize < 0 {
		return nachosfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("file size can't be negative, got %d", fileSize))
	}
	if fileSize > g.MaxFileSize() {
		return nachosfs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("%d bytes requested, maximum is %d", fileSize, g.MaxFileSize()))
	}

	required := g.SectorsRequired(fileSize)
	if free := freeMap.NumClear(); free < uint(required) {
		return nachosfs.ErrNoSpaceOnDevice.WithMessage(
			fmt.Sprintf(
				"%d bytes need %d sectors, only %d free", fileSize, required, free))
	}

	a := &allocation{
		header:   h,
		device:   device,
		freeMap:  freeMap,
		fileSize: fileSize,
	}

	err := a.run()
	if err != nil {
		a.rollback()
		return err
	}
	return nil
}

func (a *allocation) run() error {
	h := a.header
	g := h.geometry

	err := a.allocateDirect()
	if err != nil || h.numBytes == a.fileSize {
		return err
	}

	sector, err := a.acquire()
	if err != nil {
		return err
	}
	logrus.Debugf("creating single indirection block at sector %d", sector)
	err = newIndirectBlock(g).writeTo(a.device, sector)
	if err != nil {
		return err
	}
	h.singleIndirect = c.Some(sector)

	remaining, err := a.fillIndirect(sector, g.NumDirect*g.SectorSize)
	if err != nil || remaining == 0 {
		return err
	}
	return a.allocateDoubleIndirect()
}

// acquire takes one sector from the free map and remembers it for rollback.
func (a *allocation) acquire() (c.SectorNumber, error) {
	sector := a.freeMap.FindAndSet()
	if sector == c.NoSector {
		return c.NoSector, nachosfs.ErrNoSpaceOnDevice.WithMessage(
			fmt.Sprintf(
				"free map ran out after %d of %d sectors",
				len(a.acquired),
				a.header.geometry.SectorsRequired(a.fileSize)))
	}
	a.acquired = append(a.acquired, sector)
	return sector, nil
}

// addDataSector accounts for one more data sector in the header's totals.
func (a *allocation) addDataSector() {
	h := a.header
	h.numSectors++
	h.numBytes = h.numSectors * h.geometry.SectorSize
	if h.numBytes > a.fileSize {
		h.numBytes = a.fileSize
	}
}

// allocateDirect fills the header's direct pointers in order until either the
// file is covered or they run out.
func (a *allocation) allocateDirect() error {
	h := a.header
	g := h.geometry

	for h.numSectors < g.NumDirect && h.numSectors*g.SectorSize < a.fileSize {
		sector, err := a.acquire()
		if err != nil {
			return err
		}
		logrus.Debugf("adding sector %d to the direct pointers", sector)
		h.direct[h.numSectors] = c.Some(sector)
		a.addDataSector()
	}
	return nil
}

// fillIndirect appends data sectors to the indirection block at `sector`, which
// covers the bytes [windowStart, windowStart + NumIndirect*SectorSize) of the
// file. It stops when the file is covered or the window is exhausted, writes
// the block back, and returns the number of bytes still not covered.
func (a *allocation) fillIndirect(sector c.SectorNumber, windowStart int) (int, error) {
	h := a.header
	g := h.geometry
	windowEnd := windowStart + g.NumIndirect*g.SectorSize

	block, err := readIndirectBlock(a.device, g, sector)
	if err != nil {
		return 0, err
	}

	for {
		covered := h.numSectors * g.SectorSize
		if covered < windowStart || covered >= windowEnd || covered >= a.fileSize {
			break
		}
		if block.IsFull() {
			panic(fmt.Sprintf(
				"indirection block at sector %d is full but its window isn't", sector))
		}

		dataSector, err := a.acquire()
		if err != nil {
			return 0, err
		}
		logrus.Debugf(
			"adding sector %d to indirection block %d at position %d",
			dataSector,
			sector,
			block.Len())
		block.Append(dataSector)
		a.addDataSector()
	}

	err = block.writeTo(a.device, sector)
	if err != nil {
		return 0, err
	}
	return a.fileSize - h.numBytes, nil
}

// allocateDoubleIndirect creates the double indirection block if needed, then
// fills the indirection blocks it points to one after another until the file
// is covered.
func (a *allocation) allocateDoubleIndirect() error {
	h := a.header
	g := h.geometry

	var double *indirectBlock
	doubleSector, exists := h.doubleIndirect.Get()
	if exists {
		var err error
		double, err = readIndirectBlock(a.device, g, doubleSector)
		if err != nil {
			return err
		}
	} else {
		var err error
		doubleSector, err = a.acquire()
		if err != nil {
			return err
		}
		logrus.Debugf("creating double indirection block at sector %d", doubleSector)
		double = newIndirectBlock(g)
		err = double.writeTo(a.device, doubleSector)
		if err != nil {
			return err
		}
		h.doubleIndirect = c.Some(doubleSector)
	}

	for k := 0; ; k++ {
		if k > double.Len() {
			panic(fmt.Sprintf(
				"skipped a slot in the double indirection block: at %d, only %d used",
				k,
				double.Len()))
		}
		if k >= g.NumIndirect {
			panic(fmt.Sprintf(
				"double indirection tier exhausted with %d bytes left",
				a.fileSize-h.numBytes))
		}

		var subSector c.SectorNumber
		if k < double.Len() {
			subSector = double.Entry(k)
		} else {
			var err error
			subSector, err = a.acquire()
			if err != nil {
				return err
			}
			logrus.Debugf(
				"creating indirection block %d of the double tier at sector %d",
				k,
				subSector)

			err = newIndirectBlock(g).writeTo(a.device, subSector)
			if err != nil {
				return err
			}
			double.Append(subSector)
			err = double.writeTo(a.device, doubleSector)
			if err != nil {
				return err
			}
		}

		windowStart := g.SectorSize * (g.NumDirect + g.NumIndirect*(1+k))
		remaining, err := a.fillIndirect(subSector, windowStart)
		if err != nil || remaining == 0 {
			return err
		}
	}
}

// rollback releases every sector this allocation acquired and resets the
// header. Indirection blocks already written stay on disk but are unreachable.
func (a *allocation) rollback() {
	logrus.WithFields(logrus.Fields{
		"fileSize": a.fileSize,
		"sectors":  len(a.acquired),
	}).Warn("allocation failed, releasing acquired sectors")

	for i := len(a.acquired) - 1; i >= 0; i-- {
		a.freeMap.Clear(a.acquired[i])
	}
	a.acquired = nil
	a.header.reset()
}
