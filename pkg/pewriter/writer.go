// Package pewriter writes minimal PE images and COFF object files in
// memory. Images carry a single .rdata section holding the debug directory
// and the payloads of its entries; nothing else is emitted.
package pewriter

import (
	"debug/pe"
	"encoding/binary"
)

const (
	fileAlignment    = 0x200
	sectionAlignment = 0x1000
	rdataRVA         = sectionAlignment

	debugDirectorySize = 28

	// DebugTypeCodeView is IMAGE_DEBUG_TYPE_CODEVIEW.
	DebugTypeCodeView = 2
	// DebugTypeMisc is IMAGE_DEBUG_TYPE_MISC.
	DebugTypeMisc = 4
	// DebugTypeRepro is IMAGE_DEBUG_TYPE_REPRO.
	DebugTypeRepro = 16
)

// DebugEntry is one IMAGE_DEBUG_DIRECTORY entry.
type DebugEntry struct {
	Type uint32
	Data []byte

	// If UnmappedRVA is set AddressOfRawData points outside of every
	// section.
	UnmappedRVA bool
}

// Image describes the file to write.
type Image struct {
	// PE32Plus selects the 64-bit optional header.
	PE32Plus bool
	Machine  uint16
	Debug    []DebugEntry

	// DebugDirSizeDelta is added to the size recorded in the debug data
	// directory.
	DebugDirSizeDelta int32

	// Object writes a bare COFF object file: no DOS stub, no optional
	// header, no sections.
	Object bool
}

// Bytes returns the contents of the file described by img.
func (img *Image) Bytes() []byte {
	machine := img.Machine
	if machine == 0 {
		machine = pe.IMAGE_FILE_MACHINE_AMD64
	}

	if img.Object {
		b := &buffer{}
		writeFileHeader(b, machine, 0, 0)
		// debug/pe always reads a 96 byte DOS header candidate.
		b.pad(96 - len(b.data))
		return b.data
	}

	// .rdata: directory entries first, payloads after.
	rdata := &buffer{}
	rdata.pad(debugDirectorySize * len(img.Debug))
	for i, e := range img.Debug {
		rdata.align(4)
		payloadRVA := uint32(rdataRVA) + uint32(len(rdata.data))
		payloadOff := uint32(fileAlignment) + uint32(len(rdata.data))
		rdata.write(e.Data)
		if e.UnmappedRVA {
			payloadRVA = 0x7fff0000
		}
		d := rdata.data[i*debugDirectorySize:]
		binary.LittleEndian.PutUint32(d[12:], e.Type)
		binary.LittleEndian.PutUint32(d[16:], uint32(len(e.Data)))
		binary.LittleEndian.PutUint32(d[20:], payloadRVA)
		binary.LittleEndian.PutUint32(d[24:], payloadOff)
	}
	rdataSize := uint32(len(rdata.data))
	rdataRawSize := alignUp(rdataSize, fileAlignment)

	optSize := uint16(224)
	if img.PE32Plus {
		optSize = 240
	}

	b := &buffer{}

	// DOS header, e_lfanew at 0x3c
	b.write([]byte{'M', 'Z'})
	b.pad(0x3c - 2)
	b.u32(0x40)
	b.write([]byte{'P', 'E', 0, 0})

	writeFileHeader(b, machine, 1, optSize)

	debugDir := pe.DataDirectory{}
	if len(img.Debug) > 0 || img.DebugDirSizeDelta != 0 {
		debugDir.VirtualAddress = rdataRVA
		debugDir.Size = uint32(int32(debugDirectorySize*len(img.Debug)) + img.DebugDirSizeDelta)
	}
	sizeOfImage := rdataRVA + alignUp(rdataSize, sectionAlignment)
	img.writeOptionalHeader(b, debugDir, sizeOfImage)

	// section table
	var name [8]byte
	copy(name[:], ".rdata")
	b.write(name[:])
	b.u32(rdataSize)     // VirtualSize
	b.u32(rdataRVA)      // VirtualAddress
	b.u32(rdataRawSize)  // SizeOfRawData
	b.u32(fileAlignment) // PointerToRawData
	b.u32(0)             // PointerToRelocations
	b.u32(0)             // PointerToLineNumbers
	b.u16(0)             // NumberOfRelocations
	b.u16(0)             // NumberOfLineNumbers
	b.u32(pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ)

	if len(b.data) > fileAlignment {
		panic("internal error, headers too large")
	}
	b.pad(fileAlignment - len(b.data))
	b.write(rdata.data)
	b.pad(int(rdataRawSize - rdataSize))
	return b.data
}

func writeFileHeader(b *buffer, machine, nsections, optSize uint16) {
	characteristics := uint16(0)
	if optSize != 0 {
		characteristics = pe.IMAGE_FILE_EXECUTABLE_IMAGE
	}
	b.u16(machine)
	b.u16(nsections)
	b.u32(0) // TimeDateStamp
	b.u32(0) // PointerToSymbolTable
	b.u32(0) // NumberOfSymbols
	b.u16(optSize)
	b.u16(characteristics)
}

func (img *Image) writeOptionalHeader(b *buffer, debugDir pe.DataDirectory, sizeOfImage uint32) {
	if img.PE32Plus {
		b.u16(0x20b)
	} else {
		b.u16(0x10b)
	}
	b.write([]byte{14, 0}) // linker version
	b.u32(0)               // SizeOfCode
	b.u32(fileAlignment)   // SizeOfInitializedData
	b.u32(0)               // SizeOfUninitializedData
	b.u32(0)               // AddressOfEntryPoint
	b.u32(0)               // BaseOfCode
	if img.PE32Plus {
		b.u64(0x140000000) // ImageBase
	} else {
		b.u32(0)        // BaseOfData
		b.u32(0x400000) // ImageBase
	}
	b.u32(sectionAlignment)
	b.u32(fileAlignment)
	b.u16(6) // MajorOperatingSystemVersion
	b.u16(0)
	b.u16(0) // MajorImageVersion
	b.u16(0)
	b.u16(6) // MajorSubsystemVersion
	b.u16(0)
	b.u32(0) // Win32VersionValue
	b.u32(sizeOfImage)
	b.u32(fileAlignment) // SizeOfHeaders
	b.u32(0)             // CheckSum
	b.u16(pe.IMAGE_SUBSYSTEM_WINDOWS_CUI)
	b.u16(0) // DllCharacteristics
	for i := 0; i < 4; i++ {
		// stack and heap reserve/commit
		if img.PE32Plus {
			b.u64(0x100000)
		} else {
			b.u32(0x100000)
		}
	}
	b.u32(0)  // LoaderFlags
	b.u32(16) // NumberOfRvaAndSizes
	for i := 0; i < 16; i++ {
		if i == pe.IMAGE_DIRECTORY_ENTRY_DEBUG {
			b.u32(debugDir.VirtualAddress)
			b.u32(debugDir.Size)
			continue
		}
		b.u32(0)
		b.u32(0)
	}
}

// CodeViewPDB70 returns an RSDS CodeView record.
func CodeViewPDB70(guid [16]byte, age uint32, pdbPath string) []byte {
	b := &buffer{}
	b.write([]byte("RSDS"))
	b.write(guid[:])
	b.u32(age)
	b.write([]byte(pdbPath))
	b.write([]byte{0})
	return b.data
}

// CodeViewPDB20 returns an NB10 CodeView record.
func CodeViewPDB20(signature, age uint32, pdbPath string) []byte {
	b := &buffer{}
	b.write([]byte("NB10"))
	b.u32(0) // offset
	b.u32(signature)
	b.u32(age)
	b.write([]byte(pdbPath))
	b.write([]byte{0})
	return b.data
}

type buffer struct {
	data []byte
}

func (b *buffer) write(p []byte) {
	b.data = append(b.data, p...)
}

func (b *buffer) pad(n int) {
	b.data = append(b.data, make([]byte, n)...)
}

func (b *buffer) align(n int) {
	if r := len(b.data) % n; r != 0 {
		b.pad(n - r)
	}
}

func (b *buffer) u16(n uint16) {
	b.data = binary.LittleEndian.AppendUint16(b.data, n)
}

func (b *buffer) u32(n uint32) {
	b.data = binary.LittleEndian.AppendUint32(b.data, n)
}

func (b *buffer) u64(n uint64) {
	b.data = binary.LittleEndian.AppendUint64(b.data, n)
}

func alignUp(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}
