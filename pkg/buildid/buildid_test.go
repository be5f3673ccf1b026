package buildid_test

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/buildid/pkg/buildid"
	"github.com/go-delve/buildid/pkg/elfwriter"
	"github.com/go-delve/buildid/pkg/objfile"
	"github.com/go-delve/buildid/pkg/pewriter"
)

var (
	sectionID = []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	segmentID = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
)

type elfVariant struct {
	class  elf.Class
	data   elf.Data
	format objfile.Format
}

var elfVariants = []elfVariant{
	{elf.ELFCLASS32, elf.ELFDATA2LSB, objfile.FormatELF32LE},
	{elf.ELFCLASS32, elf.ELFDATA2MSB, objfile.FormatELF32BE},
	{elf.ELFCLASS64, elf.ELFDATA2LSB, objfile.FormatELF64LE},
	{elf.ELFCLASS64, elf.ELFDATA2MSB, objfile.FormatELF64BE},
}

func newELF(v elfVariant) *elfwriter.Writer {
	return elfwriter.New(&elf.FileHeader{Class: v.class, Data: v.data, Type: elf.ET_DYN, Machine: elf.EM_AARCH64})
}

func orderOf(v elfVariant) binary.ByteOrder {
	if v.data == elf.ELFDATA2MSB {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func mustNewFile(t *testing.T, data []byte) *objfile.File {
	t.Helper()
	f, err := objfile.NewFile(data)
	require.NoError(t, err)
	return f
}

func abiTag() elfwriter.Note {
	return elfwriter.Note{Type: elfwriter.NoteTypeGNUABITag, Name: elfwriter.NoteNameGNU, Data: []byte{0, 0, 0, 0, 3, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0}}
}

func TestGetFromSection(t *testing.T) {
	for _, v := range elfVariants {
		t.Run(v.format.String(), func(t *testing.T) {
			w := newELF(v)
			w.AddNoteSection(".note.ABI-tag", []elfwriter.Note{abiTag()}, 4)
			w.AddNoteSection(".note.gnu.build-id", []elfwriter.Note{elfwriter.GNUBuildIDNote(sectionID)}, 4)
			f := mustNewFile(t, w.Bytes())

			assert.Equal(t, v.format, f.Format())
			assert.Equal(t, buildid.Ref(sectionID), buildid.Get(f))
			assert.Empty(t, buildid.COFFDebugID(f))
		})
	}
}

func TestGetEightByteAlignedNotes(t *testing.T) {
	for _, v := range elfVariants {
		t.Run(v.format.String(), func(t *testing.T) {
			w := newELF(v)
			odd := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}
			w.AddNoteSection(".note.gnu.property", []elfwriter.Note{
				{Type: 5, Name: elfwriter.NoteNameGNU, Data: make([]byte, 12)},
				elfwriter.GNUBuildIDNote(odd),
			}, 8)
			f := mustNewFile(t, w.Bytes())

			assert.Equal(t, buildid.Ref(odd), buildid.Get(f))
		})
	}
}

func TestGetSectionsTakePriority(t *testing.T) {
	for _, v := range elfVariants {
		t.Run(v.format.String(), func(t *testing.T) {
			w := newELF(v)
			w.AddNoteProg([]elfwriter.Note{elfwriter.GNUBuildIDNote(segmentID)}, 4)
			w.AddNoteSection(".note.gnu.build-id", []elfwriter.Note{elfwriter.GNUBuildIDNote(sectionID)}, 4)
			f := mustNewFile(t, w.Bytes())

			assert.Equal(t, buildid.Ref(sectionID), buildid.Get(f))
		})
	}
}

func TestGetFallsBackToSegments(t *testing.T) {
	for _, v := range elfVariants {
		t.Run(v.format.String(), func(t *testing.T) {
			w := newELF(v)
			w.AddNoteSection(".note.ABI-tag", []elfwriter.Note{abiTag()}, 4)
			w.AddNoteProg([]elfwriter.Note{abiTag()}, 4)
			w.AddNoteProg([]elfwriter.Note{abiTag(), elfwriter.GNUBuildIDNote(segmentID)}, 4)
			f := mustNewFile(t, w.Bytes())

			assert.Equal(t, buildid.Ref(segmentID), buildid.Get(f))
		})
	}
}

func TestGetFirstMatchWins(t *testing.T) {
	w := newELF(elfVariants[2])
	w.AddNoteSection(".note.gnu.build-id", []elfwriter.Note{
		elfwriter.GNUBuildIDNote(sectionID),
		elfwriter.GNUBuildIDNote(segmentID),
	}, 4)
	f := mustNewFile(t, w.Bytes())

	assert.Equal(t, buildid.Ref(sectionID), buildid.Get(f))
}

func TestGetIgnoresOtherOwnersAndTypes(t *testing.T) {
	w := newELF(elfVariants[2])
	w.AddNoteSection(".note.go.buildid", []elfwriter.Note{
		{Type: 4, Name: "Go\x00\x00", Data: []byte("abc/def")},
		{Type: elfwriter.NoteTypeGNUBuildID, Name: "Go\x00", Data: segmentID},
		{Type: 4, Name: elfwriter.NoteNameGNU, Data: segmentID},
	}, 4)
	f := mustNewFile(t, w.Bytes())

	assert.Empty(t, buildid.Get(f))
}

func TestGetNoNotes(t *testing.T) {
	for _, v := range elfVariants {
		f := mustNewFile(t, newELF(v).Bytes())
		assert.Empty(t, buildid.Get(f), v.format.String())
	}
}

func TestGetMalformedNotes(t *testing.T) {
	for _, v := range elfVariants {
		t.Run(v.format.String(), func(t *testing.T) {
			w := newELF(v)

			corrupt := w.AddNoteSection(".note.corrupt", []elfwriter.Note{abiTag()}, 4)
			w.AddNoteSection(".note.misaligned", []elfwriter.Note{elfwriter.GNUBuildIDNote(sectionID)}, 16)
			w.AddNoteProg([]elfwriter.Note{elfwriter.GNUBuildIDNote(segmentID)}, 4)
			data := w.Bytes()

			// namesz now runs past the end of the section.
			orderOf(v).PutUint32(data[corrupt.Off:], 0x1000)

			f := mustNewFile(t, data)
			assert.Equal(t, buildid.Ref(segmentID), buildid.Get(f))
		})
	}
}

// movePhoffPastEOF points e_phoff of an ELF image past its end.
func movePhoffPastEOF(v elfVariant, data []byte) {
	if v.class == elf.ELFCLASS64 {
		orderOf(v).PutUint64(data[32:], uint64(len(data))+0x1000)
		return
	}
	orderOf(v).PutUint32(data[28:], uint32(len(data))+0x1000)
}

func TestGetUnreadableProgramHeaders(t *testing.T) {
	for _, v := range elfVariants {
		t.Run(v.format.String(), func(t *testing.T) {
			w := newELF(v)
			w.AddNoteSection(".note.gnu.build-id", []elfwriter.Note{elfwriter.GNUBuildIDNote(sectionID)}, 4)
			w.AddNoteProg([]elfwriter.Note{elfwriter.GNUBuildIDNote(segmentID)}, 4)
			data := w.Bytes()
			movePhoffPastEOF(v, data)

			f, err := objfile.NewFile(data)
			require.NoError(t, err)
			assert.Error(t, f.ProgramHeadersErr())
			assert.Equal(t, buildid.Ref(sectionID), buildid.Get(f))
			assert.Equal(t, buildid.BuildID(sectionID), buildid.Lookup(f))

			w = newELF(v)
			w.AddNoteProg([]elfwriter.Note{elfwriter.GNUBuildIDNote(segmentID)}, 4)
			data = w.Bytes()
			movePhoffPastEOF(v, data)

			f, err = objfile.NewFile(data)
			require.NoError(t, err)
			assert.Empty(t, buildid.Get(f))
		})
	}
}

func TestGetTruncatedNoteHeader(t *testing.T) {
	w := newELF(elfVariants[0])
	off := w.Here()
	w.Write([]byte{4, 0, 0, 0, 20, 0, 0, 0})
	w.AddSection(&elfwriter.Section{Name: ".note.short", Type: elf.SHT_NOTE, Off: off, Size: 8, Addralign: 4})
	f := mustNewFile(t, w.Bytes())

	assert.Empty(t, buildid.Get(f))
}

func TestGetRefAliasesFile(t *testing.T) {
	w := newELF(elfVariants[2])
	w.AddNoteSection(".note.gnu.build-id", []elfwriter.Note{elfwriter.GNUBuildIDNote(sectionID)}, 4)
	data := w.Bytes()
	f := mustNewFile(t, data)

	ref := buildid.Get(f)
	owned := ref.Clone()
	require.Equal(t, buildid.BuildID(sectionID), owned)

	ref[0] ^= 0xff
	assert.NotEqual(t, sectionID[0], buildid.Get(f)[0])
	assert.Equal(t, sectionID[0], owned[0])
}

func TestOpenFromDisk(t *testing.T) {
	w := newELF(elfVariants[2])
	w.AddNoteSection(".note.gnu.build-id", []elfwriter.Note{elfwriter.GNUBuildIDNote(sectionID)}, 4)
	path := filepath.Join(t.TempDir(), "prog")
	require.NoError(t, os.WriteFile(path, w.Bytes(), 0o600))

	f, err := objfile.Open(path)
	require.NoError(t, err)
	id := buildid.Lookup(f)
	require.NoError(t, f.Close())

	assert.Equal(t, "deadbeef00112233445566778899aabbccddeeff", id.String())
}

var testGUID = [16]byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef, 0x10, 0x32, 0x54, 0x76, 0x98, 0xba, 0xdc, 0xfe}

func TestCOFFDebugID(t *testing.T) {
	want := append(append([]byte{}, testGUID[:]...), 0x04, 0x03, 0x02, 0x01)
	for _, plus := range []bool{false, true} {
		img := &pewriter.Image{
			PE32Plus: plus,
			Debug: []pewriter.DebugEntry{
				{Type: pewriter.DebugTypeCodeView, Data: pewriter.CodeViewPDB70(testGUID, 0x01020304, `C:\src\prog.pdb`)},
			},
		}
		f := mustNewFile(t, img.Bytes())

		assert.Equal(t, objfile.FormatCOFF, f.Format())
		id := buildid.COFFDebugID(f)
		assert.Len(t, id, 20)
		assert.Equal(t, buildid.BuildID(want), id)
		assert.Equal(t, buildid.BuildID(want), buildid.Lookup(f))
		assert.Empty(t, buildid.Get(f))

		cv := buildid.CodeViewInfo(f)
		require.NotNil(t, cv)
		assert.Equal(t, `C:\src\prog.pdb`, cv.PDBFileName)
		assert.Equal(t, uint32(0x01020304), cv.Age)
	}
}

func TestCOFFDebugIDSkipsEntries(t *testing.T) {
	img := &pewriter.Image{
		PE32Plus: true,
		Debug: []pewriter.DebugEntry{
			{Type: pewriter.DebugTypeRepro, Data: []byte{1, 2, 3, 4}},
			{Type: pewriter.DebugTypeCodeView, Data: pewriter.CodeViewPDB70(testGUID, 9, "unmapped.pdb"), UnmappedRVA: true},
			{Type: pewriter.DebugTypeCodeView, Data: []byte("RSDS short")},
			{Type: pewriter.DebugTypeCodeView, Data: pewriter.CodeViewPDB20(0x1234, 2, "old.pdb")},
			{Type: pewriter.DebugTypeCodeView, Data: pewriter.CodeViewPDB70(testGUID, 1, "good.pdb")},
		},
	}
	f := mustNewFile(t, img.Bytes())

	cv := buildid.CodeViewInfo(f)
	require.NotNil(t, cv)
	assert.Equal(t, "good.pdb", cv.PDBFileName)
	assert.Equal(t, append(testGUID[:], 1, 0, 0, 0), []byte(buildid.COFFDebugID(f)))
}

func TestCOFFDebugIDAbsent(t *testing.T) {
	for name, img := range map[string]*pewriter.Image{
		"no debug directory": {},
		"no codeview":        {Debug: []pewriter.DebugEntry{{Type: pewriter.DebugTypeMisc, Data: make([]byte, 32)}}},
		"only pdb 2.0":       {Debug: []pewriter.DebugEntry{{Type: pewriter.DebugTypeCodeView, Data: pewriter.CodeViewPDB20(1, 1, "a.pdb")}}},
		"bad directory size": {
			Debug:             []pewriter.DebugEntry{{Type: pewriter.DebugTypeCodeView, Data: pewriter.CodeViewPDB70(testGUID, 1, "a.pdb")}},
			DebugDirSizeDelta: -4,
		},
		"object file": {Object: true},
	} {
		f := mustNewFile(t, img.Bytes())
		assert.Equal(t, objfile.FormatCOFF, f.Format(), name)
		assert.Empty(t, buildid.COFFDebugID(f), name)
		assert.Empty(t, buildid.Lookup(f), name)
	}
}

func TestParse(t *testing.T) {
	assert.Equal(t, buildid.BuildID{0xab, 0x12, 0xcd}, buildid.Parse("ab12cd"))
	assert.Equal(t, buildid.BuildID{0xab, 0x12, 0xcd}, buildid.Parse("AB12CD"))
	assert.Empty(t, buildid.Parse("xyz"))
	assert.Empty(t, buildid.Parse("a"))
	assert.Empty(t, buildid.Parse(""))
	assert.Empty(t, buildid.Parse("ab1g"))
}

func TestString(t *testing.T) {
	id := buildid.BuildID{0xDE, 0xAD, 0xBE, 0xEF}
	assert.Equal(t, "deadbeef", id.String())
	assert.Equal(t, "deadbeef", id.Ref().String())
	assert.True(t, id.Equal(buildid.Parse("DEADBEEF")))
	assert.Nil(t, buildid.Ref(nil).Clone())
}
