package filehdr

import (
	"fmt"
	"io"

	"github.com/nthustraydog/nachosfs"
)

// Dump writes a human-readable description of the file to `w`: its length,
// the sector backing each logical sector, and the file's contents. Sectors
// reached through the single indirection block are wrapped in `*`, those
// reached through the double indirection block in `**`. Unprintable bytes in
// the contents are written as `\xx`.
func (h *FileHeader) Dump(w io.Writer, device nachosfs.SectorDevice) error {
	g := h.geometry

	sectors, err := h.DataSectors(device)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "FileHeader contents.  File size: %d.  File blocks:\n", h.numBytes)
	for i, sector := range sectors {
		switch {
		case i < g.NumDirect:
			fmt.Fprintf(w, "%d ", sector)
		case i < g.NumDirect+g.NumIndirect:
			fmt.Fprintf(w, "*%d* ", sector)
		default:
			fmt.Fprintf(w, "**%d** ", sector)
		}
	}

	fmt.Fprint(w, "\nFile contents:\n")

	data := make([]byte, g.SectorSize)
	remaining := h.numBytes
	for _, sector := range sectors {
		err = device.ReadSector(sector, data)
		if err != nil {
			return nachosfs.CastToDriverError(err)
		}

		for j := 0; j < g.SectorSize && remaining > 0; j++ {
			if data[j] >= ' ' && data[j] <= '~' {
				fmt.Fprintf(w, "%c", data[j])
			} else {
				fmt.Fprintf(w, "\\%x", data[j])
			}
			remaining--
		}
		fmt.Fprint(w, "\n")
	}
	return nil
}
