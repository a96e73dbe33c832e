package filehdr

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
	"github.com/nthustraydog/nachosfs"
	c "github.com/nthustraydog/nachosfs/file_systems/common"
)

// FileHeader locates a file's data on disk. It records the file's length, the
// number of data sectors it occupies, NumDirect sector numbers stored inline,
// and pointers to at most one single-indirection and one double-indirection
// block.
//
// A FileHeader is not safe for concurrent use. The [nachosfs.FreeMap] passed
// to its methods is the only thing it shares with other files.
type FileHeader struct {
	geometry       Geometry
	numBytes       int
	numSectors     int
	direct         []c.OptionalSector
	singleIndirect c.OptionalSector
	doubleIndirect c.OptionalSector
}

// New returns an empty header: zero length, no sectors, every pointer absent.
func New(geometry Geometry) *FileHeader {
	return &FileHeader{
		geometry: geometry,
		direct:   make([]c.OptionalSector, geometry.NumDirect),
	}
}

// Load reads the header stored at `sector`.
func Load(
	device nachosfs.SectorDevice, geometry Geometry, sector c.SectorNumber,
) (*FileHeader, error) {
	header := New(geometry)
	err := header.FetchFrom(device, sector)
	if err != nil {
		return nil, err
	}
	return header, nil
}

func (h *FileHeader) Geometry() Geometry {
	return h.geometry
}

// FileLength returns the number of bytes in the file.
func (h *FileHeader) FileLength() int {
	return h.numBytes
}

// NumSectors returns the number of data sectors the file occupies.
func (h *FileHeader) NumSectors() int {
	return h.numSectors
}

// DirectSectors returns the sectors referenced from the header itself.
func (h *FileHeader) DirectSectors() []c.SectorNumber {
	result := make([]c.SectorNumber, 0, len(h.direct))
	for _, ptr := range h.direct {
		if sector, ok := ptr.Get(); ok {
			result = append(result, sector)
		}
	}
	return result
}

func (h *FileHeader) SingleIndirectSector() c.OptionalSector {
	return h.singleIndirect
}

func (h *FileHeader) DoubleIndirectSector() c.OptionalSector {
	return h.doubleIndirect
}

// isFresh returns true if nothing has been allocated to the header yet.
func (h *FileHeader) isFresh() bool {
	if h.numBytes != 0 || h.numSectors != 0 {
		return false
	}
	if h.singleIndirect.IsPresent() || h.doubleIndirect.IsPresent() {
		return false
	}
	for _, ptr := range h.direct {
		if ptr.IsPresent() {
			return false
		}
	}
	return true
}

// reset returns the header to the state [New] creates.
func (h *FileHeader) reset() {
	*h = *New(h.geometry)
}

// MarshalBinary encodes the header as exactly one sector:
//
//	length:int32 sectors:int32 direct[NumDirect]:int32 single:int32 double:int32
//
// little endian, absent pointers written as [c.NoSector], zero padded to the
// end of the sector.
func (h *FileHeader) MarshalBinary() ([]byte, error) {
	g := h.geometry
	raw := make([]int32, 0, headerFixedWords+g.NumDirect)
	raw = append(raw, int32(h.numBytes), int32(h.numSectors))
	for _, ptr := range h.direct {
		raw = append(raw, ptr.Raw())
	}
	raw = append(raw, h.singleIndirect.Raw(), h.doubleIndirect.Raw())

	output := make([]byte, g.SectorSize)
	err := binary.Write(bytewriter.New(output), binary.LittleEndian, raw)
	if err != nil {
		return nil, nachosfs.ErrIOFailed.Wrap(err)
	}
	return output, nil
}

// UnmarshalBinary decodes a sector written by MarshalBinary. Headers that
// break the layout's invariants (sizes that disagree, pointers that are set
// where they shouldn't be or missing where they should) are rejected with
// [nachosfs.ErrFileSystemCorrupted].
func (h *FileHeader) UnmarshalBinary(data []byte) error {
	g := h.geometry
	if len(data) != g.SectorSize {
		return nachosfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("file header must be %d bytes, got %d", g.SectorSize, len(data)))
	}

	raw := make([]int32, headerFixedWords+g.NumDirect)
	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, raw)
	if err != nil {
		return nachosfs.ErrIOFailed.Wrap(err)
	}

	decoded := New(g)
	decoded.numBytes = int(raw[0])
	decoded.numSectors = int(raw[1])
	for i := range decoded.direct {
		decoded.direct[i] = c.FromRaw(raw[2+i])
	}
	decoded.singleIndirect = c.FromRaw(raw[2+g.NumDirect])
	decoded.doubleIndirect = c.FromRaw(raw[3+g.NumDirect])

	err = decoded.checkLayout(raw)
	if err != nil {
		return err
	}

	*h = *decoded
	return nil
}

// checkLayout verifies the invariants that can be checked without reading any
// other sector. `raw` is the undecoded header, needed to tell the sentinel
// apart from other negative garbage.
func (h *FileHeader) checkLayout(raw []int32) error {
	g := h.geometry

	if h.numBytes < 0 || h.numBytes > g.MaxFileSize() {
		return nachosfs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("file length %d not in range [0, %d]", h.numBytes, g.MaxFileSize()))
	}
	if h.numSectors != g.NumDataSectors(h.numBytes) {
		return nachosfs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"file of %d bytes must occupy %d sectors, header says %d",
				h.numBytes,
				g.NumDataSectors(h.numBytes),
				h.numSectors))
	}

	for _, value := range raw[2:] {
		if value < 0 && c.SectorNumber(value) != c.NoSector {
			return nachosfs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("invalid sector number %d in file header", value))
		}
	}

	for i, ptr := range h.direct {
		if ptr.IsPresent() != (i < h.numSectors) {
			return nachosfs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf(
					"direct pointer %d is %s but the file has %d sectors",
					i,
					ptr,
					h.numSectors))
		}
	}

	needSingle := h.numSectors > g.NumDirect
	if h.singleIndirect.IsPresent() != needSingle {
		return nachosfs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"single indirect pointer is %s but the file has %d sectors",
				h.singleIndirect,
				h.numSectors))
	}

	needDouble := h.numSectors > g.NumDirect+g.NumIndirect
	if h.doubleIndirect.IsPresent() != needDouble {
		return nachosfs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"double indirect pointer is %s but the file has %d sectors",
				h.doubleIndirect,
				h.numSectors))
	}
	return nil
}

// FetchFrom replaces the header's contents with the header stored at `sector`.
func (h *FileHeader) FetchFrom(device nachosfs.SectorDevice, sector c.SectorNumber) error {
	buffer := make([]byte, h.geometry.SectorSize)
	err := device.ReadSector(sector, buffer)
	if err != nil {
		return nachosfs.CastToDriverError(err)
	}

	err = h.UnmarshalBinary(buffer)
	if err != nil {
		return nachosfs.CastToDriverError(err).WithMessage(
			fmt.Sprintf("file header at sector %d", sector))
	}
	return nil
}

// WriteBack writes the header to `sector`.
func (h *FileHeader) WriteBack(device nachosfs.SectorDevice, sector c.SectorNumber) error {
	data, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	return nachosfs.CastToDriverError(device.WriteSector(sector, data))
}

// IndexSectors returns every indirection block the file owns: the single
// indirection block, the double indirection block, and the blocks the double
// indirection block points to.
func (h *FileHeader) IndexSectors(device nachosfs.SectorDevice) ([]c.SectorNumber, error) {
	var result []c.SectorNumber

	if sector, ok := h.singleIndirect.Get(); ok {
		result = append(result, sector)
	}
	if sector, ok := h.doubleIndirect.Get(); ok {
		result = append(result, sector)

		double, err := readIndirectBlock(device, h.geometry, sector)
		if err != nil {
			return nil, err
		}
		result = append(result, double.entries...)
	}
	return result, nil
}

// DataSectors returns the physical sector of every logical sector in the file,
// in order.
func (h *FileHeader) DataSectors(device nachosfs.SectorDevice) ([]c.SectorNumber, error) {
	result := make([]c.SectorNumber, h.numSectors)
	for i := range result {
		sector, err := h.PhysicalSector(device, i)
		if err != nil {
			return nil, err
		}
		result[i] = sector
	}
	return result, nil
}
