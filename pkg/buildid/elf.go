package buildid

import (
	"debug/elf"
	"fmt"

	"github.com/go-delve/buildid/pkg/logflags"
	"github.com/go-delve/buildid/pkg/objfile"
)

// elfBuildID returns the descriptor of the GNU build-id note of f. Notes
// described by section headers take priority over notes described by
// program headers. Malformed note regions are skipped, an unreadable
// program header table ends the search.
func elfBuildID(f *objfile.File) Ref {
	ef := f.ELF()
	if ef == nil {
		return nil
	}

	for _, s := range ef.Sections {
		if s.Type != elf.SHT_NOTE {
			continue
		}
		res := scanNoteRegion(f, s.Offset, s.Size, s.Addralign)
		switch res.state {
		case scanFound:
			return res.desc
		case scanMalformed:
			logMalformed(f, "section "+s.Name, res.err)
		}
	}

	if err := f.ProgramHeadersErr(); err != nil {
		logMalformed(f, "program headers", err)
		return nil
	}

	for i, p := range ef.Progs {
		if p.Type != elf.PT_NOTE {
			continue
		}
		res := scanNoteRegion(f, p.Off, p.Filesz, p.Align)
		switch res.state {
		case scanFound:
			return res.desc
		case scanMalformed:
			logMalformed(f, fmt.Sprintf("program header %d", i), res.err)
		}
	}

	return nil
}

func scanNoteRegion(f *objfile.File, off, size, align uint64) scanResult {
	region, ok := f.Bytes(off, size)
	if !ok {
		return scanResult{state: scanMalformed, err: fmt.Errorf("invalid offset (%#x) or size (%#x)", off, size)}
	}
	return findBuildIDNote(region, align, f.ELF().ByteOrder)
}

func logMalformed(f *objfile.File, where string, err error) {
	if !logflags.BuildID() {
		return
	}
	logflags.BuildIDLogger().WithFields(logflags.Fields{"file": f.Path, "region": where}).WithError(err).Debug("skipping malformed record")
}
