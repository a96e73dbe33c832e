package testing

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/nthustraydog/nachosfs"
	c "github.com/nthustraydog/nachosfs/file_systems/common"
	"github.com/nthustraydog/nachosfs/file_systems/common/blockcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// CreateRandomImage creates an image with the given number of sectors and bytes
// per sector. It is guaranteed to either return a valid slice or fail the test
// and abort.
func CreateRandomImage(bytesPerSector, totalSectors uint, t *testing.T) []byte {
	backingData := make([]byte, bytesPerSector*totalSectors)

	_, err := rand.Read(backingData)
	require.NoErrorf(
		t,
		err,
		"failed to initialize %d sectors of size %d with random bytes",
		totalSectors,
		bytesPerSector,
	)
	return backingData
}

// CreateDefaultDevice creates a sector device with default fetch/flush
// handlers.
//
// Arguments:
//
//   - bytesPerSector: The number of bytes in a single sector.
//   - totalSectors: The number of sectors on the device.
//   - writable: `true` if the image is writable, `false` otherwise. The handler
//     will fail a test if an attempt is made to write to the image if this is
//     false.
//   - backingData: Optional. A byte slice of at least
//     `bytesPerSector * totalSectors` that is used as the underlying storage.
//     You can pass `nil` for this to get completely random data.
//   - `t`: The testing fixture.
//
// The handlers check bounds and fail the test with an appropriate message, so
// negative conditions must be tested without them.
func CreateDefaultDevice(
	bytesPerSector,
	totalSectors uint,
	writable bool,
	backingData []byte,
	t *testing.T,
) *blockcache.BlockCache {
	if backingData == nil {
		backingData = CreateRandomImage(bytesPerSector, totalSectors, t)
	}

	fetchCallback := func(sector c.SectorNumber, buffer []byte) error {
		if sector < 0 || uint(sector) >= totalSectors {
			message := fmt.Sprintf(
				"attempted to read outside bounds: sector %d not in [0, %d)",
				sector,
				totalSectors,
			)
			t.Error(message)
			return nachosfs.ErrIOFailed.WithMessage(message)
		}

		start := uint(sector) * bytesPerSector
		copy(buffer, backingData[start:start+bytesPerSector])
		return nil
	}

	var flushCallback blockcache.FlushSectorCallback
	if writable {
		flushCallback = func(sector c.SectorNumber, buffer []byte) error {
			if sector < 0 || uint(sector) >= totalSectors {
				message := fmt.Sprintf(
					"attempted to write outside bounds: %d not in [0, %d)",
					sector,
					totalSectors,
				)
				t.Error(message)
				return nachosfs.ErrIOFailed.WithMessage(message)
			}

			start := uint(sector) * bytesPerSector
			copy(backingData[start:start+bytesPerSector], buffer)
			return nil
		}
	}

	device := blockcache.New(bytesPerSector, totalSectors, fetchCallback, flushCallback)
	assert.EqualValues(t, bytesPerSector, device.SectorSize(), "wrong bytes per sector")
	assert.EqualValues(t, totalSectors, device.NumSectors(), "wrong total sectors")
	assert.EqualValues(t, bytesPerSector*totalSectors, device.Size(), "total size is wrong")
	return device
}

// CreateZeroedStreamDevice returns a device over a zero-filled in-memory image,
// along with the image bytes so tests can inspect what was written.
func CreateZeroedStreamDevice(
	bytesPerSector, totalSectors uint, t *testing.T,
) (*blockcache.BlockCache, []byte) {
	imageBytes := make([]byte, bytesPerSector*totalSectors)
	stream := bytesextra.NewReadWriteSeeker(imageBytes)

	device := blockcache.WrapStream(stream, bytesPerSector, totalSectors)
	require.EqualValues(t, totalSectors, device.NumSectors())
	return device, imageBytes
}
