package blockcache_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/nthustraydog/nachosfs"
	c "github.com/nthustraydog/nachosfs/file_systems/common"
	"github.com/nthustraydog/nachosfs/file_systems/common/blockcache"
	dt "github.com/nthustraydog/nachosfs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// Read every sector with no trickery such as reading past the end of the
// image.
func TestBlockCache__Read__Basic(t *testing.T) {
	// 64 sectors, 128 bytes per sector: the NachOS default.
	rawSectors := dt.CreateRandomImage(128, 64, t)
	device := dt.CreateDefaultDevice(128, 64, false, rawSectors, t)

	currentSector := make([]byte, 128)
	for i := c.SectorNumber(0); i < 64; i++ {
		err := device.ReadSector(i, currentSector)
		if err != nil {
			t.Errorf("failed to read sector %d of [0, 64): %s", i, err.Error())
			continue
		}

		start := i * 128
		if !bytes.Equal(currentSector, rawSectors[start:start+128]) {
			t.Errorf("sector %d read from the device doesn't match", i)
		}
	}
}

// Trying to read outside the image must fail.
func TestBlockCache__Read__OutOfBounds(t *testing.T) {
	device := dt.CreateDefaultDevice(128, 16, false, nil, t)
	buffer := make([]byte, 128)

	assert.NoError(t, device.ReadSector(0, buffer), "failed to read first sector")
	assert.NoError(t, device.ReadSector(15, buffer), "failed to read last sector")

	err := device.ReadSector(16, buffer)
	assert.ErrorIs(t, err, nachosfs.ErrInvalidArgument)

	err = device.ReadSector(c.NoSector, buffer)
	assert.ErrorIs(t, err, nachosfs.ErrInvalidArgument)
}

// Buffers must be exactly one sector.
func TestBlockCache__Read__WrongBufferSize(t *testing.T) {
	device := dt.CreateDefaultDevice(128, 16, false, nil, t)

	assert.ErrorIs(t, device.ReadSector(0, make([]byte, 127)), nachosfs.ErrInvalidArgument)
	assert.ErrorIs(t, device.ReadSector(0, make([]byte, 256)), nachosfs.ErrInvalidArgument)
	assert.ErrorIs(t, device.WriteSector(0, []byte{}), nachosfs.ErrInvalidArgument)
}

// Write to a sector and then read back that same sector. You should always get
// back what you wrote, and so should the backing storage.
func TestBlockCache__Write__Basic(t *testing.T) {
	backing := dt.CreateRandomImage(128, 16, t)
	device := dt.CreateDefaultDevice(128, 16, true, backing, t)
	writeBuffer := make([]byte, device.SectorSize())
	readBuffer := make([]byte, device.SectorSize())

	for i := 0; i < int(device.NumSectors()); i++ {
		rand.Read(writeBuffer)
		require.NoError(t, device.WriteSector(c.SectorNumber(i), writeBuffer))
		require.NoError(t, device.ReadSector(c.SectorNumber(i), readBuffer))

		assert.Equalf(
			t, writeBuffer, readBuffer, "wrote to sector %d but read back different data", i)

		start := i * 128
		assert.Equalf(
			t, writeBuffer, backing[start:start+128], "sector %d wasn't written through", i)
	}
}

func TestBlockCache__Write__ReadOnly(t *testing.T) {
	device := blockcache.New(
		128,
		4,
		func(sector c.SectorNumber, buffer []byte) error { return nil },
		nil,
	)
	err := device.WriteSector(0, make([]byte, 128))
	assert.ErrorIs(t, err, nachosfs.ErrIOFailed)
	assert.ErrorIs(t, err, nachosfs.ErrReadOnlyFileSystem)
}

// Reads after the first one are served from memory, but every call is counted.
func TestBlockCache__Stats(t *testing.T) {
	device := dt.CreateDefaultDevice(128, 8, true, nil, t)
	buffer := make([]byte, 128)

	for i := 0; i < 3; i++ {
		require.NoError(t, device.ReadSector(2, buffer))
	}
	require.NoError(t, device.WriteSector(3, buffer))
	require.NoError(t, device.ReadSector(3, buffer))

	stats := device.Stats()
	assert.EqualValues(t, 4, stats.Reads)
	assert.EqualValues(t, 1, stats.Writes)
	assert.EqualValues(t, 1, stats.Fetches, "only sector 2 should come from storage")
}

func TestBlockCache__WrapStream(t *testing.T) {
	image := make([]byte, 128*8)
	stream := bytesextra.NewReadWriteSeeker(image)
	device := blockcache.WrapStream(stream, 128, 8)

	data := bytes.Repeat([]byte{0xa5}, 128)
	require.NoError(t, device.WriteSector(5, data))
	assert.Equal(t, data, image[5*128:6*128])

	reopened, err := blockcache.WrapStreamWithInferredSize(
		bytesextra.NewReadWriteSeeker(image), 128)
	require.NoError(t, err)
	assert.EqualValues(t, 8, reopened.NumSectors())

	readBack := make([]byte, 128)
	require.NoError(t, reopened.ReadSector(5, readBack))
	assert.Equal(t, data, readBack)

	all, err := reopened.Data()
	require.NoError(t, err)
	assert.Equal(t, image, all)
}
