package filehdr_test

import (
	"encoding/binary"
	"testing"

	"github.com/nthustraydog/nachosfs"
	c "github.com/nthustraydog/nachosfs/file_systems/common"
	"github.com/nthustraydog/nachosfs/file_systems/filehdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew__Empty(t *testing.T) {
	header := filehdr.New(filehdr.DefaultGeometry())
	assert.Equal(t, 0, header.FileLength())
	assert.Equal(t, 0, header.NumSectors())
	assert.Empty(t, header.DirectSectors())
	assert.Equal(t, c.Absent, header.SingleIndirectSector())
	assert.Equal(t, c.Absent, header.DoubleIndirectSector())
}

func TestMarshalBinary__Layout(t *testing.T) {
	header, _, _ := allocateTestFile(t, 1300)

	data, err := header.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, 128)

	word := func(i int) int32 {
		return int32(binary.LittleEndian.Uint32(data[4*i:]))
	}
	assert.EqualValues(t, 1300, word(0))
	assert.EqualValues(t, 11, word(1))
	for i := 0; i < 10; i++ {
		assert.EqualValues(t, i, word(2+i), "direct pointer %d", i)
	}
	assert.EqualValues(t, 10, word(12), "single indirect")
	assert.EqualValues(t, c.NoSector, word(13), "double indirect")
	assert.Equal(t, make([]byte, 128-56), data[56:], "padding must be zeroed")
}

func TestMarshalBinary__RoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 1280, 1300, 5121, 9000, 120320} {
		header, _, _ := allocateTestFile(t, size)

		data, err := header.MarshalBinary()
		require.NoError(t, err)

		decoded := filehdr.New(header.Geometry())
		require.NoError(t, decoded.UnmarshalBinary(data), "size %d", size)
		assert.Equal(t, header, decoded, "size %d", size)

		again, err := decoded.MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, data, again, "re-encoding changed the bytes for size %d", size)
	}
}

func TestWriteBackAndLoad(t *testing.T) {
	header, device, _ := allocateTestFile(t, 9000)
	require.NoError(t, header.WriteBack(device, 1000))

	loaded, err := filehdr.Load(device, header.Geometry(), 1000)
	require.NoError(t, err)
	assert.Equal(t, header.FileLength(), loaded.FileLength())
	assert.Equal(t, header.NumSectors(), loaded.NumSectors())

	expected, err := header.DataSectors(device)
	require.NoError(t, err)
	actual, err := loaded.DataSectors(device)
	require.NoError(t, err)
	assert.Equal(t, expected, actual)
}

func TestUnmarshalBinary__Corrupted(t *testing.T) {
	// Each edit is a (word index, value) pair applied to a valid 1300-byte file.
	tests := []struct {
		name  string
		edits [][2]int32
	}{
		{"negative length", [][2]int32{{0, -5}}},
		{"length too big", [][2]int32{{0, 940*128 + 1}}},
		{"sector count disagrees with length", [][2]int32{{1, 12}}},
		{"garbage negative pointer", [][2]int32{{3, -7}}},
		{"missing direct pointer", [][2]int32{{11, -1}}},
		{"single indirect past the end", [][2]int32{{0, 1280}, {1, 10}}},
		{"missing single indirect", [][2]int32{{12, -1}}},
		{"unexpected double indirect", [][2]int32{{13, 500}}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			header, _, _ := allocateTestFile(t, 1300)
			data, err := header.MarshalBinary()
			require.NoError(t, err)

			for _, edit := range test.edits {
				binary.LittleEndian.PutUint32(data[4*edit[0]:], uint32(edit[1]))
			}

			decoded := filehdr.New(header.Geometry())
			err = decoded.UnmarshalBinary(data)
			assert.ErrorIs(t, err, nachosfs.ErrFileSystemCorrupted)
			assert.Equal(t, 0, decoded.NumSectors(), "failed decode must not modify the header")
		})
	}
}

func TestUnmarshalBinary__WrongSize(t *testing.T) {
	header := filehdr.New(filehdr.DefaultGeometry())
	err := header.UnmarshalBinary(make([]byte, 64))
	assert.ErrorIs(t, err, nachosfs.ErrInvalidArgument)
}

// A corrupted indirection block is reported when it's read, not silently
// followed.
func TestPhysicalSector__CorruptedIndirectBlock(t *testing.T) {
	header, device, _ := allocateTestFile(t, 1300)
	single := header.SingleIndirectSector().MustGet()

	buffer := make([]byte, 128)
	require.NoError(t, device.ReadSector(single, buffer))
	binary.LittleEndian.PutUint32(buffer, 31)
	require.NoError(t, device.WriteSector(single, buffer))

	_, err := header.PhysicalSector(device, 10)
	assert.ErrorIs(t, err, nachosfs.ErrFileSystemCorrupted)

	_, err = header.PhysicalSector(device, 3)
	assert.NoError(t, err, "direct pointers don't touch the indirection block")
}
