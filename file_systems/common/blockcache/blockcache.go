// Package blockcache provides a sector device that keeps an in-memory copy of
// the sectors it has seen and writes every modification straight through to
// the backing storage.
//
// All sector indices begin at 0.

package blockcache

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/boljen/go-bitmap"
	"github.com/nthustraydog/nachosfs"
	c "github.com/nthustraydog/nachosfs/file_systems/common"
)

// FetchSectorCallback is a pointer to a function that writes the contents of a
// single sector from the backing storage into `buffer`. The following
// guarantees apply:
//
// - `sector` is in the range [0, NumSectors).
// - `buffer` is always BytesPerSector bytes.
type FetchSectorCallback func(sector c.SectorNumber, buffer []byte) error

// FlushSectorCallback is a pointer to a function that writes the contents of
// the given buffer to a sector in the backing storage. All restrictions and
// guarantees in [FetchSectorCallback] apply here too.
type FlushSectorCallback func(sector c.SectorNumber, buffer []byte) error

// IOStats counts the sector operations a [BlockCache] has served.
type IOStats struct {
	Reads  uint64
	Writes uint64
	// Fetches is the number of reads that had to go to backing storage.
	Fetches uint64
}

type BlockCache struct {
	lock           sync.Mutex
	loadedSectors  bitmap.Bitmap
	dirtySectors   bitmap.Bitmap
	fetch          FetchSectorCallback
	flush          FlushSectorCallback
	bytesPerSector uint
	totalSectors   uint
	data           []byte
	stats          IOStats
}

var _ nachosfs.SectorDevice = (*BlockCache)(nil)

// New creates a new BlockCache.
//
// `fetchCb` reads a single sector from the backing storage, and `flushCb`
// writes a single sector to it. If `flushCb` is nil the device is read-only
// and every write fails with [nachosfs.ErrReadOnlyFileSystem].
func New(
	bytesPerSector uint,
	totalSectors uint,
	fetchCb FetchSectorCallback,
	flushCb FlushSectorCallback,
) *BlockCache {
	if flushCb == nil {
		flushCb = func(sector c.SectorNumber, buffer []byte) error {
			return nachosfs.ErrReadOnlyFileSystem.WithMessage(
				fmt.Sprintf("can't write sector %d", sector))
		}
	}

	return &BlockCache{
		loadedSectors:  bitmap.New(int(totalSectors)),
		dirtySectors:   bitmap.New(int(totalSectors)),
		data:           make([]byte, int(bytesPerSector*totalSectors)),
		fetch:          fetchCb,
		flush:          flushCb,
		bytesPerSector: bytesPerSector,
		totalSectors:   totalSectors,
	}
}

// WrapStream creates a [BlockCache] that wraps any [io.ReadWriteSeeker]. The
// stream is expected to be at least `bytesPerSector * totalSectors` bytes;
// reading past its end yields zeroes.
func WrapStream(
	stream io.ReadWriteSeeker,
	bytesPerSector uint,
	totalSectors uint,
) *BlockCache {
	// Reading and writing differ only by a single method call on the stream, so
	// both callbacks go through here.
	runCb := func(sector c.SectorNumber, buffer []byte, read bool) error {
		err := seekToSector(stream, sector, totalSectors, bytesPerSector)
		if err != nil {
			return err
		}

		if read {
			var n int
			n, err = io.ReadFull(stream, buffer)
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				// Short images are treated as zero-filled.
				for i := n; i < len(buffer); i++ {
					buffer[i] = 0
				}
				err = nil
			}
		} else {
			_, err = stream.Write(buffer)
		}
		return err
	}

	fetchCb := func(sector c.SectorNumber, buffer []byte) error {
		return runCb(sector, buffer, true)
	}

	flushCb := func(sector c.SectorNumber, buffer []byte) error {
		return runCb(sector, buffer, false)
	}

	return New(bytesPerSector, totalSectors, fetchCb, flushCb)
}

// WrapStreamWithInferredSize is like [WrapStream] but determines the number of
// sectors from the size of the stream. Trailing bytes that don't make up a
// whole sector are ignored.
func WrapStreamWithInferredSize(
	stream io.ReadWriteSeeker,
	bytesPerSector uint,
) (*BlockCache, error) {
	size, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, nachosfs.ErrIOFailed.Wrap(err)
	}
	return WrapStream(stream, bytesPerSector, uint(size)/bytesPerSector), nil
}

// seekToSector sets the stream pointer for a stream to the offset of a sector.
func seekToSector(
	stream io.Seeker, sector c.SectorNumber, totalSectors uint, bytesPerSector uint,
) error {
	if sector < 0 || uint(sector) >= totalSectors {
		return nachosfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"invalid sector number: %d not in range [0, %d)",
				sector,
				totalSectors,
			),
		)
	}

	sectorOffset := int64(sector) * int64(bytesPerSector)
	_, err := stream.Seek(sectorOffset, io.SeekStart)
	return err
}

// SectorSize returns the size of a single sector, in bytes.
func (cache *BlockCache) SectorSize() uint {
	return cache.bytesPerSector
}

// NumSectors returns the size of the device, in sectors.
func (cache *BlockCache) NumSectors() uint {
	return cache.totalSectors
}

// Size gives the size of the device, in bytes (not sectors!).
func (cache *BlockCache) Size() int64 {
	return int64(cache.bytesPerSector) * int64(cache.totalSectors)
}

// Stats returns a snapshot of the I/O counters.
func (cache *BlockCache) Stats() IOStats {
	cache.lock.Lock()
	defer cache.lock.Unlock()
	return cache.stats
}

// checkAccess verifies that `sector` exists and `bufferSize` is exactly one
// sector.
func (cache *BlockCache) checkAccess(sector c.SectorNumber, bufferSize int) error {
	if sector < 0 || uint(sector) >= cache.totalSectors {
		return nachosfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"invalid sector number: %d not in range [0, %d)",
				sector,
				cache.totalSectors,
			),
		)
	}
	if uint(bufferSize) != cache.bytesPerSector {
		return nachosfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"buffer must be exactly %d bytes, got %d",
				cache.bytesPerSector,
				bufferSize,
			),
		)
	}
	return nil
}

// sectorSlice returns the cache's storage for a single sector.
func (cache *BlockCache) sectorSlice(sector c.SectorNumber) []byte {
	start := uint(sector) * cache.bytesPerSector
	return cache.data[start : start+cache.bytesPerSector]
}

// loadSector ensures a sector is present in the cache. The caller must hold the
// lock.
func (cache *BlockCache) loadSector(sector c.SectorNumber) error {
	// Dirty sectors are present by definition, so we don't need to check
	// `dirtySectors`.
	if cache.loadedSectors.Get(int(sector)) {
		return nil
	}

	err := cache.fetch(sector, cache.sectorSlice(sector))
	if err != nil {
		return nachosfs.ErrIOFailed.Wrap(
			fmt.Errorf("failed to load sector %d from source: %w", sector, err))
	}

	cache.stats.Fetches++
	cache.loadedSectors.Set(int(sector), true)
	cache.dirtySectors.Set(int(sector), false)
	return nil
}

// flushSector writes a dirty sector to the backing storage and marks it clean.
// The caller must hold the lock.
func (cache *BlockCache) flushSector(sector c.SectorNumber) error {
	if !cache.dirtySectors.Get(int(sector)) {
		return nil
	}

	err := cache.flush(sector, cache.sectorSlice(sector))
	if err != nil {
		return nachosfs.ErrIOFailed.Wrap(
			fmt.Errorf("failed to flush sector %d to storage: %w", sector, err))
	}

	cache.dirtySectors.Set(int(sector), false)
	return nil
}

// ReadSector fills `buffer` with the contents of `sector`, loading it from the
// backing storage first if needed.
func (cache *BlockCache) ReadSector(sector c.SectorNumber, buffer []byte) error {
	err := cache.checkAccess(sector, len(buffer))
	if err != nil {
		return err
	}

	cache.lock.Lock()
	defer cache.lock.Unlock()

	err = cache.loadSector(sector)
	if err != nil {
		return err
	}

	copy(buffer, cache.sectorSlice(sector))
	cache.stats.Reads++
	return nil
}

// WriteSector copies `buffer` into `sector` and immediately writes it through
// to the backing storage. If the write-through fails the sector stays dirty and
// a later [BlockCache.Flush] will retry it.
func (cache *BlockCache) WriteSector(sector c.SectorNumber, buffer []byte) error {
	err := cache.checkAccess(sector, len(buffer))
	if err != nil {
		return err
	}

	cache.lock.Lock()
	defer cache.lock.Unlock()

	copy(cache.sectorSlice(sector), buffer)
	cache.loadedSectors.Set(int(sector), true)
	cache.dirtySectors.Set(int(sector), true)
	cache.stats.Writes++

	return cache.flushSector(sector)
}

// Flush writes out every sector still marked dirty, i.e. those whose
// write-through failed earlier.
func (cache *BlockCache) Flush() error {
	cache.lock.Lock()
	defer cache.lock.Unlock()

	for i := uint(0); i < cache.totalSectors; i++ {
		err := cache.flushSector(c.SectorNumber(i))
		if err != nil {
			return err
		}
	}
	return nil
}

// Data returns a copy of the entire device's contents, loading every sector not
// yet in the cache.
func (cache *BlockCache) Data() ([]byte, error) {
	cache.lock.Lock()
	defer cache.lock.Unlock()

	for i := uint(0); i < cache.totalSectors; i++ {
		err := cache.loadSector(c.SectorNumber(i))
		if err != nil {
			return nil, err
		}
	}

	result := make([]byte, len(cache.data))
	copy(result, cache.data)
	return result, nil
}
