package buildid

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	noteTypeGNUBuildID = 3
	noteNameGNU        = "GNU"

	noteHeaderSize = 12
)

// scanState is the outcome of scanning one note region.
type scanState uint8

const (
	scanNotFound scanState = iota
	scanFound
	scanMalformed
)

type scanResult struct {
	state scanState
	desc  Ref
	err   error
}

var errNoteOverflow = errors.New("ELF note overflows its region")

// noteAlignment normalizes the alignment declared by a section or segment.
// Notes are 4 byte aligned unless the region asks for 8, 0 and 1 are
// tolerated for the benefit of core files.
func noteAlignment(align uint64) (uint64, error) {
	switch align {
	case 0, 1, 4:
		return 4, nil
	case 8:
		return 8, nil
	}
	return 0, fmt.Errorf("alignment (%d) is not 4 or 8", align)
}

func alignTo(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// findBuildIDNote iterates over the notes contained in region and returns
// the descriptor of the first GNU build-id note. The descriptor aliases
// region.
func findBuildIDNote(region []byte, align uint64, order binary.ByteOrder) scanResult {
	align, err := noteAlignment(align)
	if err != nil {
		return scanResult{state: scanMalformed, err: err}
	}

	rest := uint64(len(region))
	off := uint64(0)
	for rest > 0 {
		if rest < noteHeaderSize {
			return scanResult{state: scanMalformed, err: errNoteOverflow}
		}
		namesz := uint64(order.Uint32(region[off:]))
		descsz := uint64(order.Uint32(region[off+4:]))
		typ := order.Uint32(region[off+8:])

		descOff := alignTo(noteHeaderSize+namesz, align)
		size := descOff + alignTo(descsz, align)
		if size > rest {
			return scanResult{state: scanMalformed, err: errNoteOverflow}
		}

		if typ == noteTypeGNUBuildID && noteName(region[off+noteHeaderSize:off+noteHeaderSize+namesz]) == noteNameGNU {
			start := off + descOff
			return scanResult{state: scanFound, desc: Ref(region[start : start+descsz : start+descsz])}
		}

		off += size
		rest -= size
	}
	return scanResult{state: scanNotFound}
}

// noteName returns the name of a note, without the terminating NUL.
func noteName(name []byte) string {
	if len(name) == 0 {
		return ""
	}
	return string(name[:len(name)-1])
}
