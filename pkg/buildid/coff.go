package buildid

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-delve/buildid/pkg/objfile"
)

const (
	debugTypeCodeView  = 2
	debugDirectorySize = 28

	// "RSDS"
	cvSignaturePDB70 = 0x53445352

	// CVSignature, 16 byte GUID, Age.
	pdb70HeaderSize = 24
)

// CodeView is a decoded PDB 7.0 CodeView debug record.
type CodeView struct {
	GUID        [16]byte
	Age         uint32
	PDBFileName string
}

// DebugID returns the GUID followed by the age in little endian byte order.
func (cv *CodeView) DebugID() BuildID {
	id := make(BuildID, 0, len(cv.GUID)+4)
	id = append(id, cv.GUID[:]...)
	return binary.LittleEndian.AppendUint32(id, cv.Age)
}

var errUnsupportedCodeView = errors.New("unsupported CodeView signature")

// debugDirectory is an IMAGE_DEBUG_DIRECTORY entry.
type debugDirectory struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

// debugDirectories returns the entries of the debug directory of f in
// stored order. Files without an optional header have none.
func debugDirectories(f *objfile.File) ([]debugDirectory, error) {
	pf := f.PE()
	var dd pe.DataDirectory
	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes <= pe.IMAGE_DIRECTORY_ENTRY_DEBUG {
			return nil, nil
		}
		dd = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_DEBUG]
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes <= pe.IMAGE_DIRECTORY_ENTRY_DEBUG {
			return nil, nil
		}
		dd = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_DEBUG]
	default:
		return nil, nil
	}
	if dd.VirtualAddress == 0 {
		return nil, nil
	}
	if dd.Size%debugDirectorySize != 0 {
		return nil, fmt.Errorf("debug directory size (%d) is not a multiple of %d", dd.Size, debugDirectorySize)
	}
	raw, err := rvaBytes(f, dd.VirtualAddress, dd.Size)
	if err != nil {
		return nil, fmt.Errorf("debug directory: %w", err)
	}
	dirs := make([]debugDirectory, len(raw)/debugDirectorySize)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, dirs); err != nil {
		return nil, err
	}
	return dirs, nil
}

// rvaBytes returns the size bytes at relative virtual address rva. The
// whole range must fall inside the virtual extent of a single section.
func rvaBytes(f *objfile.File, rva, size uint32) ([]byte, error) {
	for _, s := range f.PE().Sections {
		start := s.VirtualAddress
		offset := rva - start
		if start <= rva && offset < s.VirtualSize && size <= s.VirtualSize-offset {
			b, ok := f.Bytes(uint64(s.Offset)+uint64(offset), uint64(size))
			if !ok {
				return nil, fmt.Errorf("RVA %#x is outside of the file", rva)
			}
			return b, nil
		}
	}
	return nil, fmt.Errorf("RVA %#x not found in any section", rva)
}

// decodeCodeView decodes the payload of a CodeView debug directory entry.
func decodeCodeView(f *objfile.File, d *debugDirectory) (*CodeView, error) {
	info, err := rvaBytes(f, d.AddressOfRawData, d.SizeOfData)
	if err != nil {
		return nil, err
	}
	if len(info) < pdb70HeaderSize+1 {
		return nil, fmt.Errorf("CodeView record too small (%d bytes)", len(info))
	}
	if binary.LittleEndian.Uint32(info) != cvSignaturePDB70 {
		return nil, errUnsupportedCodeView
	}
	cv := &CodeView{Age: binary.LittleEndian.Uint32(info[20:])}
	copy(cv.GUID[:], info[4:20])
	name := info[pdb70HeaderSize:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	cv.PDBFileName = string(name)
	return cv, nil
}

// CodeViewInfo returns the first PDB 7.0 CodeView record of the debug
// directory of f, or nil if f is not a COFF file or has no such record.
// Entries that cannot be decoded and other CodeView signatures are
// skipped.
func CodeViewInfo(f *objfile.File) *CodeView {
	if f.Format() != objfile.FormatCOFF {
		return nil
	}
	dirs, err := debugDirectories(f)
	if err != nil {
		logMalformed(f, "debug directory", err)
		return nil
	}
	for i := range dirs {
		if dirs[i].Type != debugTypeCodeView {
			continue
		}
		cv, err := decodeCodeView(f, &dirs[i])
		if err != nil {
			logMalformed(f, fmt.Sprintf("debug directory entry %d", i), err)
			continue
		}
		return cv
	}
	return nil
}
