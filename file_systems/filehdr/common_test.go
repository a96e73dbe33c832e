package filehdr_test

import (
	"testing"

	"github.com/nthustraydog/nachosfs/file_systems/common/blockcache"
	"github.com/nthustraydog/nachosfs/file_systems/common/freemap"
	"github.com/nthustraydog/nachosfs/file_systems/filehdr"
	dt "github.com/nthustraydog/nachosfs/testing"
	"github.com/stretchr/testify/require"
)

// testDeviceSectors is big enough for a maximum-size file in the default
// geometry along with all of its indirection blocks.
const testDeviceSectors = 1024

func newTestVolume(t *testing.T) (*blockcache.BlockCache, *freemap.FreeMap) {
	g := filehdr.DefaultGeometry()
	device, _ := dt.CreateZeroedStreamDevice(uint(g.SectorSize), testDeviceSectors, t)
	return device, freemap.New(testDeviceSectors)
}

func allocateTestFile(
	t *testing.T, fileSize int,
) (*filehdr.FileHeader, *blockcache.BlockCache, *freemap.FreeMap) {
	device, fm := newTestVolume(t)
	header := filehdr.New(filehdr.DefaultGeometry())
	require.NoError(t, header.Allocate(device, fm, fileSize))
	return header, device, fm
}
