package filehdr

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
	"github.com/nthustraydog/nachosfs"
	c "github.com/nthustraydog/nachosfs/file_systems/common"
)

// indirectBlock is the in-memory form of a sector holding an array of sector
// numbers. Only the used entries are kept; the on-disk form pads the rest with
// [c.NoSector].
type indirectBlock struct {
	geometry Geometry
	entries  []c.SectorNumber
}

func newIndirectBlock(geometry Geometry) *indirectBlock {
	return &indirectBlock{
		geometry: geometry,
		entries:  make([]c.SectorNumber, 0, geometry.NumIndirect),
	}
}

// Len returns the number of entries in use.
func (b *indirectBlock) Len() int {
	return len(b.entries)
}

func (b *indirectBlock) IsFull() bool {
	return len(b.entries) >= b.geometry.NumIndirect
}

// Entry returns the sector number at position `i`, which must be in use.
func (b *indirectBlock) Entry(i int) c.SectorNumber {
	if i < 0 || i >= len(b.entries) {
		panic(fmt.Sprintf(
			"indirection entry %d not in range [0, %d)", i, len(b.entries)))
	}
	return b.entries[i]
}

func (b *indirectBlock) Append(sector c.SectorNumber) {
	if b.IsFull() {
		panic(fmt.Sprintf(
			"can't add sector %d: indirection block already holds %d entries",
			sector,
			len(b.entries)))
	}
	b.entries = append(b.entries, sector)
}

// MarshalBinary encodes the block as exactly one sector: the entry count
// followed by NumIndirect entries, unused ones set to [c.NoSector], then zero
// padding.
func (b *indirectBlock) MarshalBinary() ([]byte, error) {
	raw := make([]int32, 1+b.geometry.NumIndirect)
	raw[0] = int32(len(b.entries))
	for i := 0; i < b.geometry.NumIndirect; i++ {
		if i < len(b.entries) {
			raw[1+i] = int32(b.entries[i])
		} else {
			raw[1+i] = int32(c.NoSector)
		}
	}

	output := make([]byte, b.geometry.SectorSize)
	err := binary.Write(bytewriter.New(output), binary.LittleEndian, raw)
	if err != nil {
		return nil, nachosfs.ErrIOFailed.Wrap(err)
	}
	return output, nil
}

// UnmarshalBinary decodes a sector written by MarshalBinary, rejecting blocks
// whose count is out of range or whose entries disagree with the count.
func (b *indirectBlock) UnmarshalBinary(data []byte) error {
	if len(data) != b.geometry.SectorSize {
		return nachosfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"indirection block must be %d bytes, got %d",
				b.geometry.SectorSize,
				len(data)))
	}

	raw := make([]int32, 1+b.geometry.NumIndirect)
	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, raw)
	if err != nil {
		return nachosfs.ErrIOFailed.Wrap(err)
	}

	count := int(raw[0])
	if count < 0 || count > b.geometry.NumIndirect {
		return nachosfs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"indirection block count %d not in range [0, %d]",
				count,
				b.geometry.NumIndirect))
	}

	entries := make([]c.SectorNumber, 0, b.geometry.NumIndirect)
	for i, value := range raw[1:] {
		sector := c.SectorNumber(value)
		if i < count && sector < 0 {
			return nachosfs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("indirection entry %d of %d is unset", i, count))
		} else if i >= count && sector != c.NoSector {
			return nachosfs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf(
					"indirection entry %d is past the count (%d) but points to sector %d",
					i,
					count,
					sector))
		}
		if i < count {
			entries = append(entries, sector)
		}
	}

	b.entries = entries
	return nil
}

// readIndirectBlock fetches and decodes the indirection block stored at
// `sector`.
func readIndirectBlock(
	device nachosfs.SectorDevice, geometry Geometry, sector c.SectorNumber,
) (*indirectBlock, error) {
	buffer := make([]byte, geometry.SectorSize)
	err := device.ReadSector(sector, buffer)
	if err != nil {
		return nil, nachosfs.CastToDriverError(err)
	}

	block := newIndirectBlock(geometry)
	err = block.UnmarshalBinary(buffer)
	if err != nil {
		return nil, nachosfs.CastToDriverError(err).WithMessage(
			fmt.Sprintf("indirection block at sector %d", sector))
	}
	return block, nil
}

// writeTo persists the block to `sector`.
func (b *indirectBlock) writeTo(device nachosfs.SectorDevice, sector c.SectorNumber) error {
	data, err := b.MarshalBinary()
	if err != nil {
		return err
	}
	return nachosfs.CastToDriverError(device.WriteSector(sector, data))
}
