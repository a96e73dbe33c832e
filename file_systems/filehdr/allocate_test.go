package filehdr_test

import (
	"fmt"
	"testing"

	"github.com/nthustraydog/nachosfs"
	c "github.com/nthustraydog/nachosfs/file_systems/common"
	"github.com/nthustraydog/nachosfs/file_systems/common/freemap"
	"github.com/nthustraydog/nachosfs/file_systems/filehdr"
	dt "github.com/nthustraydog/nachosfs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A 1300-byte file fills the direct pointers and spills one sector into the
// single indirection block.
func TestAllocate__SpillsIntoSingleIndirect(t *testing.T) {
	header, device, fm := allocateTestFile(t, 1300)

	assert.Equal(t, 1300, header.FileLength())
	assert.Equal(t, 11, header.NumSectors())
	assert.Len(t, header.DirectSectors(), 10)
	assert.True(t, header.SingleIndirectSector().IsPresent())
	assert.False(t, header.DoubleIndirectSector().IsPresent())
	assert.EqualValues(t, testDeviceSectors-12, fm.NumClear())

	// First fit: the direct pointers get 0-9, the indirection block 10, and the
	// eleventh data sector 11.
	assert.EqualValues(t, 10, header.SingleIndirectSector().MustGet())
	sector, err := header.PhysicalSector(device, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 11, sector)
}

func TestAllocate__TierBoundaries(t *testing.T) {
	g := filehdr.DefaultGeometry()
	tests := []struct {
		fileSize   int
		numSectors int
		single     bool
		double     bool
	}{
		{0, 0, false, false},
		{1, 1, false, false},
		{g.NumDirect * g.SectorSize, 10, false, false},
		{g.NumDirect*g.SectorSize + 1, 11, true, false},
		{(g.NumDirect + g.NumIndirect) * g.SectorSize, 40, true, false},
		{(g.NumDirect+g.NumIndirect)*g.SectorSize + 1, 41, true, true},
		{(g.NumDirect + 2*g.NumIndirect) * g.SectorSize, 70, true, true},
		{(g.NumDirect+2*g.NumIndirect)*g.SectorSize + 1, 71, true, true},
		{g.MaxFileSize(), 940, true, true},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("%d bytes", test.fileSize), func(t *testing.T) {
			header, device, fm := allocateTestFile(t, test.fileSize)

			assert.Equal(t, test.fileSize, header.FileLength())
			assert.Equal(t, test.numSectors, header.NumSectors())
			assert.Equal(t, test.single, header.SingleIndirectSector().IsPresent())
			assert.Equal(t, test.double, header.DoubleIndirectSector().IsPresent())
			assert.EqualValues(
				t,
				testDeviceSectors-g.SectorsRequired(test.fileSize),
				fm.NumClear(),
				"wrong number of sectors taken from the free map")

			checkSectorsDistinctAndAllocated(t, header, device, fm)
		})
	}
}

func checkSectorsDistinctAndAllocated(
	t *testing.T,
	header *filehdr.FileHeader,
	device nachosfs.SectorDevice,
	fm *freemap.FreeMap,
) {
	dataSectors, err := header.DataSectors(device)
	require.NoError(t, err)
	indexSectors, err := header.IndexSectors(device)
	require.NoError(t, err)

	assert.Len(t, dataSectors, header.NumSectors())
	assert.Len(
		t,
		indexSectors,
		header.Geometry().SectorsRequired(header.FileLength())-header.NumSectors())

	seen := map[c.SectorNumber]bool{}
	for _, sector := range append(dataSectors, indexSectors...) {
		assert.False(t, seen[sector], "sector %d is used twice", sector)
		assert.True(t, fm.Test(sector), "sector %d isn't marked allocated", sector)
		seen[sector] = true
	}
}

func TestAllocate__NotFresh(t *testing.T) {
	header, device, fm := allocateTestFile(t, 100)
	before := fm.NumClear()

	err := header.Allocate(device, fm, 100)
	assert.ErrorIs(t, err, nachosfs.ErrInvalidArgument)
	assert.Equal(t, before, fm.NumClear())
	assert.Equal(t, 100, header.FileLength())
}

func TestAllocate__NegativeSize(t *testing.T) {
	device, fm := newTestVolume(t)
	header := filehdr.New(filehdr.DefaultGeometry())

	err := header.Allocate(device, fm, -1)
	assert.ErrorIs(t, err, nachosfs.ErrInvalidArgument)
	assert.EqualValues(t, testDeviceSectors, fm.NumClear())
}

func TestAllocate__TooLarge(t *testing.T) {
	device, fm := newTestVolume(t)
	g := filehdr.DefaultGeometry()
	header := filehdr.New(g)

	err := header.Allocate(device, fm, g.MaxFileSize()+1)
	assert.ErrorIs(t, err, nachosfs.ErrFileTooLarge)
	assert.EqualValues(t, testDeviceSectors, fm.NumClear())
	assert.Equal(t, 0, header.NumSectors())
}

// The free map has enough room for the data but not for the indirection
// blocks, so the request must be refused without touching anything.
func TestAllocate__OutOfSpace(t *testing.T) {
	g := filehdr.DefaultGeometry()
	device, _ := dt.CreateZeroedStreamDevice(uint(g.SectorSize), 64, t)
	fm := freemap.New(64)

	// 41 data sectors need 44 sectors total.
	for i := 0; i < 64-43; i++ {
		require.NotEqual(t, c.NoSector, fm.FindAndSet())
	}
	require.EqualValues(t, 43, fm.NumClear())

	header := filehdr.New(g)
	err := header.Allocate(device, fm, 41*g.SectorSize)
	assert.ErrorIs(t, err, nachosfs.ErrNoSpaceOnDevice)
	assert.EqualValues(t, 43, fm.NumClear())
	assert.Equal(t, 0, header.FileLength())
	assert.Equal(t, 0, header.NumSectors())

	// One more free sector and it fits exactly.
	fm.Clear(0)
	require.NoError(t, header.Allocate(device, fm, 41*g.SectorSize))
	assert.EqualValues(t, 0, fm.NumClear())
}

// Another file taking sectors from the shared map after the space check must
// not leave sectors stranded.
func TestAllocate__RollbackWhenFreeMapRunsDry(t *testing.T) {
	g := filehdr.DefaultGeometry()

	for _, budget := range []int{0, 5, 10, 11, 41, 43} {
		t.Run(fmt.Sprintf("budget %d", budget), func(t *testing.T) {
			device, fm := newTestVolume(t)
			stingy := &dt.StingyFreeMap{FreeMap: fm, Budget: budget}
			header := filehdr.New(g)

			err := header.Allocate(device, stingy, (g.NumDirect+g.NumIndirect+5)*g.SectorSize)
			assert.ErrorIs(t, err, nachosfs.ErrNoSpaceOnDevice)
			assert.EqualValues(t, testDeviceSectors, fm.NumClear())
			assert.Equal(t, 0, header.FileLength())
			assert.Equal(t, 0, header.NumSectors())
			assert.Empty(t, header.DirectSectors())
			assert.False(t, header.SingleIndirectSector().IsPresent())
			assert.False(t, header.DoubleIndirectSector().IsPresent())
		})
	}
}

func TestAllocate__RollbackOnWriteFailure(t *testing.T) {
	g := filehdr.DefaultGeometry()

	// Writes for a file reaching into the double tier, in order: create single,
	// fill single, create double, create first sub-block, update double, fill
	// sub-block.
	for writes := 0; writes < 6; writes++ {
		t.Run(fmt.Sprintf("fail after %d writes", writes), func(t *testing.T) {
			device, fm := newTestVolume(t)
			flaky := &dt.FlakyDevice{SectorDevice: device, WritesBeforeFailure: writes}
			header := filehdr.New(g)

			err := header.Allocate(flaky, fm, (g.NumDirect+g.NumIndirect+1)*g.SectorSize)
			assert.ErrorIs(t, err, nachosfs.ErrIOFailed)
			assert.EqualValues(t, testDeviceSectors, fm.NumClear())
			assert.Equal(t, 0, header.NumSectors())
			assert.False(t, header.SingleIndirectSector().IsPresent())
			assert.False(t, header.DoubleIndirectSector().IsPresent())

			// The header is fresh again and can be retried.
			flaky.WritesBeforeFailure = -1
			require.NoError(t, header.Allocate(flaky, fm, 100))
			assert.Equal(t, 1, header.NumSectors())
		})
	}
}

// Two files sharing a free map never share a sector.
func TestAllocate__SharedFreeMap(t *testing.T) {
	device, fm := newTestVolume(t)
	g := filehdr.DefaultGeometry()

	first := filehdr.New(g)
	second := filehdr.New(g)
	require.NoError(t, first.Allocate(device, fm, 6000))
	require.NoError(t, second.Allocate(device, fm, 9000))

	firstSectors, err := first.DataSectors(device)
	require.NoError(t, err)
	secondSectors, err := second.DataSectors(device)
	require.NoError(t, err)

	firstIndex, err := first.IndexSectors(device)
	require.NoError(t, err)
	secondIndex, err := second.IndexSectors(device)
	require.NoError(t, err)

	owner := map[c.SectorNumber]string{}
	for _, sector := range append(firstSectors, firstIndex...) {
		owner[sector] = "first"
	}
	for _, sector := range append(secondSectors, secondIndex...) {
		_, taken := owner[sector]
		assert.False(t, taken, "sector %d belongs to both files", sector)
	}

	assert.EqualValues(
		t,
		testDeviceSectors-g.SectorsRequired(6000)-g.SectorsRequired(9000),
		fm.NumClear())
}
