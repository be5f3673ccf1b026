// elfwriter is a package to write small ELF files in memory.
// Only the features needed to produce note-carrying fixtures are
// implemented, notably missing:
// - symbol tables and relocations
// - loadable segments

package elfwriter

import (
	"debug/elf"
	"encoding/binary"
)

// Section describes a section written by Writer.
type Section struct {
	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Off       uint64
	Size      uint64
	Addralign uint64
}

// Note is a single ELF note record.
type Note struct {
	Type elf.NType
	Name string
	Data []byte
}

// Writer writes ELF files.
type Writer struct {
	Progs    []*elf.ProgHeader
	Sections []*Section

	class elf.Class
	order binary.ByteOrder
	buf   []byte
}

// New creates a new Writer and writes a placeholder file header, patched by
// Bytes once all sections and program headers are known.
func New(fhdr *elf.FileHeader) *Writer {
	w := &Writer{class: fhdr.Class}

	switch fhdr.Data {
	case elf.ELFDATA2LSB:
		w.order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		w.order = binary.BigEndian
	default:
		panic("unsupported data encoding")
	}
	if fhdr.Class != elf.ELFCLASS32 && fhdr.Class != elf.ELFCLASS64 {
		panic("unsupported class")
	}

	// e_ident
	w.Write([]byte{0x7f, 'E', 'L', 'F', byte(fhdr.Class), byte(fhdr.Data), byte(elf.EV_CURRENT), byte(fhdr.OSABI), fhdr.ABIVersion, 0, 0, 0, 0, 0, 0, 0})

	w.u16(uint16(fhdr.Type))    // e_type
	w.u16(uint16(fhdr.Machine)) // e_machine
	w.u32(uint32(elf.EV_CURRENT))
	w.addr(0) // e_entry
	w.addr(0) // e_phoff
	w.addr(0) // e_shoff
	w.u32(0)  // e_flags
	w.u16(uint16(w.ehsize()))
	w.u16(0) // e_phentsize
	w.u16(0) // e_phnum
	w.u16(0) // e_shentsize
	w.u16(0) // e_shnum
	w.u16(uint16(elf.SHN_UNDEF))

	if w.Here() != w.ehsize() {
		panic("internal error, ELF header size")
	}

	return w
}

func (w *Writer) ehsize() uint64 {
	if w.class == elf.ELFCLASS64 {
		return 64
	}
	return 52
}

func (w *Writer) phentsize() uint64 {
	if w.class == elf.ELFCLASS64 {
		return 56
	}
	return 32
}

func (w *Writer) shentsize() uint64 {
	if w.class == elf.ELFCLASS64 {
		return 64
	}
	return 40
}

// WriteNotes writes notes at the current location, each record aligned to
// align, and returns the offset and size of the written region.
func (w *Writer) WriteNotes(notes []Note, align uint64) (off, size uint64) {
	w.Align(align)
	off = w.Here()
	for i := range notes {
		note := &notes[i]
		w.Align(align)
		w.u32(uint32(len(note.Name)))
		w.u32(uint32(len(note.Data)))
		w.u32(uint32(note.Type))
		w.Write([]byte(note.Name))
		w.Align(align)
		w.Write(note.Data)
	}
	w.Align(align)
	return off, w.Here() - off
}

// AddNoteSection writes notes and describes them with a SHT_NOTE section.
func (w *Writer) AddNoteSection(name string, notes []Note, align uint64) *Section {
	off, size := w.WriteNotes(notes, align)
	return w.AddSection(&Section{Name: name, Type: elf.SHT_NOTE, Flags: elf.SHF_ALLOC, Off: off, Size: size, Addralign: align})
}

// AddNoteProg writes notes and describes them with a PT_NOTE program header.
func (w *Writer) AddNoteProg(notes []Note, align uint64) *elf.ProgHeader {
	off, size := w.WriteNotes(notes, align)
	h := &elf.ProgHeader{Type: elf.PT_NOTE, Flags: elf.PF_R, Off: off, Filesz: size, Memsz: size, Align: align}
	w.Progs = append(w.Progs, h)
	return h
}

// AddSection appends a section header, the contents described by s must
// already have been written.
func (w *Writer) AddSection(s *Section) *Section {
	w.Sections = append(w.Sections, s)
	return s
}

// Bytes writes the section name table, the program headers and the section
// headers, patches the file header accordingly and returns the file
// contents.
func (w *Writer) Bytes() []byte {
	var shstrtab []byte
	shstrtab = append(shstrtab, 0)
	nameOff := make([]uint32, len(w.Sections))
	for i, s := range w.Sections {
		nameOff[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, s.Name...)
		shstrtab = append(shstrtab, 0)
	}
	shstrtabName := uint32(len(shstrtab))
	shstrtab = append(shstrtab, ".shstrtab"...)
	shstrtab = append(shstrtab, 0)
	shstrtabOff := w.Here()
	w.Write(shstrtab)

	w.Align(8)
	phoff := w.Here()
	for _, prog := range w.Progs {
		w.writeProg(prog)
	}

	w.Align(8)
	shoff := w.Here()
	w.writeSection(0, &Section{})
	for i, s := range w.Sections {
		w.writeSection(nameOff[i], s)
	}
	w.writeSection(shstrtabName, &Section{Type: elf.SHT_STRTAB, Off: shstrtabOff, Size: uint64(len(shstrtab)), Addralign: 1})
	shnum := uint64(len(w.Sections) + 2)

	// Patch File Header
	out := w.buf
	if w.class == elf.ELFCLASS64 {
		w.order.PutUint64(out[32:], phoff)
		w.order.PutUint64(out[40:], shoff)
		w.order.PutUint16(out[54:], uint16(w.phentsize()))
		w.order.PutUint16(out[56:], uint16(len(w.Progs)))
		w.order.PutUint16(out[58:], uint16(w.shentsize()))
		w.order.PutUint16(out[60:], uint16(shnum))
		w.order.PutUint16(out[62:], uint16(shnum-1))
	} else {
		w.order.PutUint32(out[28:], uint32(phoff))
		w.order.PutUint32(out[32:], uint32(shoff))
		w.order.PutUint16(out[42:], uint16(w.phentsize()))
		w.order.PutUint16(out[44:], uint16(len(w.Progs)))
		w.order.PutUint16(out[46:], uint16(w.shentsize()))
		w.order.PutUint16(out[48:], uint16(shnum))
		w.order.PutUint16(out[50:], uint16(shnum-1))
	}
	return out
}

func (w *Writer) writeProg(prog *elf.ProgHeader) {
	if w.class == elf.ELFCLASS64 {
		w.u32(uint32(prog.Type))
		w.u32(uint32(prog.Flags))
		w.u64(prog.Off)
		w.u64(prog.Vaddr)
		w.u64(prog.Paddr)
		w.u64(prog.Filesz)
		w.u64(prog.Memsz)
		w.u64(prog.Align)
		return
	}
	w.u32(uint32(prog.Type))
	w.u32(uint32(prog.Off))
	w.u32(uint32(prog.Vaddr))
	w.u32(uint32(prog.Paddr))
	w.u32(uint32(prog.Filesz))
	w.u32(uint32(prog.Memsz))
	w.u32(uint32(prog.Flags))
	w.u32(uint32(prog.Align))
}

func (w *Writer) writeSection(name uint32, s *Section) {
	w.u32(name)
	w.u32(uint32(s.Type))
	w.addr(uint64(s.Flags))
	w.addr(0) // sh_addr
	w.addr(s.Off)
	w.addr(s.Size)
	w.u32(0) // sh_link
	w.u32(0) // sh_info
	w.addr(s.Addralign)
	w.addr(0) // sh_entsize
}

// Here returns the current offset from the start of the file.
func (w *Writer) Here() uint64 {
	return uint64(len(w.buf))
}

// Align writes as many padding bytes as needed to make the current file
// offset a multiple of align.
func (w *Writer) Align(align uint64) {
	if align <= 1 {
		return
	}
	off := w.Here()
	alignOff := (off + (align - 1)) &^ (align - 1)
	if alignOff-off > 0 {
		w.Write(make([]byte, alignOff-off))
	}
}

func (w *Writer) Write(buf []byte) {
	w.buf = append(w.buf, buf...)
}

func (w *Writer) u16(n uint16) {
	var b [2]byte
	w.order.PutUint16(b[:], n)
	w.Write(b[:])
}

func (w *Writer) u32(n uint32) {
	var b [4]byte
	w.order.PutUint32(b[:], n)
	w.Write(b[:])
}

func (w *Writer) u64(n uint64) {
	var b [8]byte
	w.order.PutUint64(b[:], n)
	w.Write(b[:])
}

// addr writes a word of the file's class size.
func (w *Writer) addr(n uint64) {
	if w.class == elf.ELFCLASS64 {
		w.u64(n)
	} else {
		w.u32(uint32(n))
	}
}
