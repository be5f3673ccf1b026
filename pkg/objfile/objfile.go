// Package objfile opens executable and object files and reports which
// container variant they are. It is the only place in this module that
// knows how to get from a path on disk to a parsed *elf.File or *pe.File.
package objfile

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Format identifies the concrete container variant of a File.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatELF32LE
	FormatELF32BE
	FormatELF64LE
	FormatELF64BE
	FormatCOFF
)

func (f Format) String() string {
	switch f {
	case FormatELF32LE:
		return "elf32-little"
	case FormatELF32BE:
		return "elf32-big"
	case FormatELF64LE:
		return "elf64-little"
	case FormatELF64BE:
		return "elf64-big"
	case FormatCOFF:
		return "coff"
	}
	return "unknown"
}

// IsELF returns true for the four ELF variants.
func (f Format) IsELF() bool {
	switch f {
	case FormatELF32LE, FormatELF32BE, FormatELF64LE, FormatELF64BE:
		return true
	}
	return false
}

// ErrUnknownFormat is returned when the contents of a file are neither ELF
// nor COFF.
var ErrUnknownFormat = errors.New("unrecognized object file format")

// File is a parsed executable or object file together with its raw
// contents. Byte slices returned by Bytes alias the file contents and
// become invalid once Close is called.
type File struct {
	Path string

	data   []byte
	format Format
	elf    *elf.File
	pe     *pe.File
	unmap  func([]byte) error

	// progsErr is why the ELF program header table could not be read.
	progsErr error
}

// Open maps the file at path into memory and parses it.
func Open(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	data, unmap, err := mapFile(fh)
	if err != nil {
		return nil, fmt.Errorf("could not map %s: %w", path, err)
	}
	f, err := NewFile(data)
	if err != nil {
		if unmap != nil {
			unmap(data)
		}
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	f.Path = path
	f.unmap = unmap
	return f, nil
}

// NewFile parses an in-memory image. The returned File references data
// directly, data must not be modified while the File is in use.
func NewFile(data []byte) (*File, error) {
	f := &File{data: data}
	switch {
	case len(data) >= len(elf.ELFMAG) && string(data[:len(elf.ELFMAG)]) == elf.ELFMAG:
		ef, progsErr, err := parseELF(data)
		if err != nil {
			return nil, err
		}
		f.elf = ef
		f.progsErr = progsErr
		f.format = elfFormat(ef)
		if f.format == FormatUnknown {
			return nil, fmt.Errorf("%w: ELF class %v, data %v", ErrUnknownFormat, ef.Class, ef.Data)
		}
	case isCOFF(data):
		pf, err := pe.NewFile(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		f.pe = pf
		f.format = FormatCOFF
	default:
		return nil, ErrUnknownFormat
	}
	return f, nil
}

// parseELF parses data with debug/elf, which reads the program header
// table eagerly. If that fails but the file parses with the table ignored,
// the file is returned without program headers and the original error is
// returned as progsErr.
func parseELF(data []byte) (ef *elf.File, progsErr, err error) {
	ef, err = elf.NewFile(bytes.NewReader(data))
	if err == nil {
		return ef, nil, nil
	}
	r, ok := withoutProgramHeaders(data)
	if !ok {
		return nil, nil, err
	}
	ef, retryErr := elf.NewFile(r)
	if retryErr != nil {
		return nil, nil, err
	}
	return ef, err, nil
}

// withoutProgramHeaders returns a view of data whose ELF header has
// e_phoff and e_phnum set to zero.
func withoutProgramHeaders(data []byte) (io.ReaderAt, bool) {
	if len(data) < elf.EI_NIDENT {
		return nil, false
	}
	var phoff, phoffSize, phnum int
	switch elf.Class(data[elf.EI_CLASS]) {
	case elf.ELFCLASS32:
		phoff, phoffSize, phnum = 28, 4, 44
	case elf.ELFCLASS64:
		phoff, phoffSize, phnum = 32, 8, 56
	default:
		return nil, false
	}
	if len(data) < phnum+2 {
		return nil, false
	}
	hdr := append([]byte(nil), data[:phnum+2]...)
	clear(hdr[phoff : phoff+phoffSize])
	clear(hdr[phnum : phnum+2])
	return &patchedReader{data: data, patch: hdr}, true
}

// patchedReader reads data with its first len(patch) bytes replaced by
// patch.
type patchedReader struct {
	data  []byte
	patch []byte
}

func (r *patchedReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if off < int64(len(r.patch)) {
		copy(p[:n], r.patch[off:])
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func elfFormat(ef *elf.File) Format {
	switch {
	case ef.Class == elf.ELFCLASS32 && ef.Data == elf.ELFDATA2LSB:
		return FormatELF32LE
	case ef.Class == elf.ELFCLASS32 && ef.Data == elf.ELFDATA2MSB:
		return FormatELF32BE
	case ef.Class == elf.ELFCLASS64 && ef.Data == elf.ELFDATA2LSB:
		return FormatELF64LE
	case ef.Class == elf.ELFCLASS64 && ef.Data == elf.ELFDATA2MSB:
		return FormatELF64BE
	}
	return FormatUnknown
}

// coffMachines are the machine types a bare COFF object file may start
// with.
var coffMachines = map[uint16]bool{
	pe.IMAGE_FILE_MACHINE_AM33:        true,
	pe.IMAGE_FILE_MACHINE_AMD64:       true,
	pe.IMAGE_FILE_MACHINE_ARM:         true,
	pe.IMAGE_FILE_MACHINE_ARMNT:       true,
	pe.IMAGE_FILE_MACHINE_ARM64:       true,
	pe.IMAGE_FILE_MACHINE_EBC:         true,
	pe.IMAGE_FILE_MACHINE_I386:        true,
	pe.IMAGE_FILE_MACHINE_IA64:        true,
	pe.IMAGE_FILE_MACHINE_LOONGARCH32: true,
	pe.IMAGE_FILE_MACHINE_LOONGARCH64: true,
	pe.IMAGE_FILE_MACHINE_M32R:        true,
	pe.IMAGE_FILE_MACHINE_MIPS16:      true,
	pe.IMAGE_FILE_MACHINE_MIPSFPU:     true,
	pe.IMAGE_FILE_MACHINE_MIPSFPU16:   true,
	pe.IMAGE_FILE_MACHINE_POWERPC:     true,
	pe.IMAGE_FILE_MACHINE_POWERPCFP:   true,
	pe.IMAGE_FILE_MACHINE_R4000:       true,
	pe.IMAGE_FILE_MACHINE_RISCV32:     true,
	pe.IMAGE_FILE_MACHINE_RISCV64:     true,
	pe.IMAGE_FILE_MACHINE_RISCV128:    true,
	pe.IMAGE_FILE_MACHINE_SH3:         true,
	pe.IMAGE_FILE_MACHINE_SH3DSP:      true,
	pe.IMAGE_FILE_MACHINE_SH4:         true,
	pe.IMAGE_FILE_MACHINE_SH5:         true,
	pe.IMAGE_FILE_MACHINE_THUMB:       true,
	pe.IMAGE_FILE_MACHINE_WCEMIPSV2:   true,
}

// isCOFF recognizes PE images by their DOS stub and bare COFF object files
// by their machine type.
func isCOFF(data []byte) bool {
	if len(data) >= 2 && data[0] == 'M' && data[1] == 'Z' {
		return true
	}
	if len(data) < 20 {
		return false
	}
	return coffMachines[binary.LittleEndian.Uint16(data)]
}

// Format returns the container variant of f.
func (f *File) Format() Format {
	return f.format
}

// ELF returns the parsed ELF file or nil if f is not an ELF file.
func (f *File) ELF() *elf.File {
	return f.elf
}

// PE returns the parsed COFF/PE file or nil if f is not a COFF file.
func (f *File) PE() *pe.File {
	return f.pe
}

// ProgramHeadersErr returns the error that prevented the ELF program
// header table from being read. ELF().Progs is empty when it is not nil.
func (f *File) ProgramHeadersErr() error {
	return f.progsErr
}

// Bytes returns the size bytes starting at file offset off. The second
// return value is false if the range does not lie entirely inside the
// file.
func (f *File) Bytes(off, size uint64) ([]byte, bool) {
	end := off + size
	if end < off || end > uint64(len(f.data)) {
		return nil, false
	}
	return f.data[off:end:end], true
}

// Close releases the memory backing f.
func (f *File) Close() error {
	var err error
	if f.unmap != nil && f.data != nil {
		err = f.unmap(f.data)
	}
	f.data = nil
	f.elf = nil
	f.pe = nil
	f.unmap = nil
	return err
}
