package cmds

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/buildid/pkg/config"
	"github.com/go-delve/buildid/pkg/debugfile"
	"github.com/go-delve/buildid/pkg/elfwriter"
	"github.com/go-delve/buildid/pkg/pewriter"
)

var testID = []byte{0xab, 0xcd, 0xef, 0x01, 0x23, 0x45, 0x67, 0x89}

func run(t *testing.T, c *config.Config, args ...string) (string, error) {
	t.Helper()
	if c == nil {
		c = &config.Config{}
	}
	var out bytes.Buffer
	cmd := New(c)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func elfBinary(t *testing.T, notes ...elfwriter.Note) string {
	t.Helper()
	w := elfwriter.New(&elf.FileHeader{Class: elf.ELFCLASS64, Data: elf.ELFDATA2LSB, Type: elf.ET_EXEC, Machine: elf.EM_X86_64})
	if len(notes) > 0 {
		w.AddNoteSection(".note.gnu.build-id", notes, 4)
	}
	return writeFile(t, "prog", w.Bytes())
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestID(t *testing.T) {
	out, err := run(t, nil, "id", elfBinary(t, elfwriter.GNUBuildIDNote(testID)))
	require.NoError(t, err)
	assert.Equal(t, "abcdef0123456789\n", out)
}

func TestIDUnreadableProgramHeaders(t *testing.T) {
	w := elfwriter.New(&elf.FileHeader{Class: elf.ELFCLASS64, Data: elf.ELFDATA2LSB, Type: elf.ET_EXEC, Machine: elf.EM_X86_64})
	w.AddNoteSection(".note.gnu.build-id", []elfwriter.Note{elfwriter.GNUBuildIDNote(testID)}, 4)
	w.AddNoteProg([]elfwriter.Note{elfwriter.GNUBuildIDNote([]byte{1, 2, 3, 4})}, 4)
	data := w.Bytes()
	binary.LittleEndian.PutUint64(data[32:], uint64(len(data))+0x1000)

	out, err := run(t, nil, "id", writeFile(t, "prog", data))
	require.NoError(t, err)
	assert.Equal(t, "abcdef0123456789\n", out)
}

func TestIDVerboseCOFF(t *testing.T) {
	var guid [16]byte
	for i := range guid {
		guid[i] = byte(i)
	}
	img := &pewriter.Image{
		PE32Plus: true,
		Debug: []pewriter.DebugEntry{
			{Type: pewriter.DebugTypeCodeView, Data: pewriter.CodeViewPDB70(guid, 2, `C:\out\app.pdb`)},
		},
	}
	out, err := run(t, nil, "id", "-v", writeFile(t, "app.exe", img.Bytes()))
	require.NoError(t, err)
	assert.Contains(t, out, "format:\tcoff\n")
	assert.Contains(t, out, "id:\t000102030405060708090a0b0c0d0e0f02000000\n")
	assert.Contains(t, out, "age:\t2\n")
	assert.Contains(t, out, "pdb:\tC:\\out\\app.pdb\n")
}

func TestIDNoBuildID(t *testing.T) {
	_, err := run(t, nil, "id", elfBinary(t))
	assert.ErrorIs(t, err, errNoBuildID)
}

func TestIDNotAnObjectFile(t *testing.T) {
	_, err := run(t, nil, "id", writeFile(t, "notes.txt", []byte("just some text, not a binary")))
	assert.Error(t, err)
}

func TestFindBinary(t *testing.T) {
	bin := elfBinary(t, elfwriter.GNUBuildIDNote(testID))
	empty, dbg := t.TempDir(), t.TempDir()
	want := debugfile.Path(dbg, testID)
	touch(t, want)

	out, err := run(t, nil, "find", "-d", empty, "--debug-file-directory", dbg, bin)
	require.NoError(t, err)
	assert.Equal(t, want+"\n", out)
}

func TestFindBuildIDFromConfig(t *testing.T) {
	dbg := t.TempDir()
	want := debugfile.Path(dbg, testID)
	touch(t, want)

	out, err := run(t, &config.Config{DebugFileDirectories: []string{dbg}}, "find", "ABCDEF0123456789")
	require.NoError(t, err)
	assert.Equal(t, want+"\n", out)
}

func TestFindFlagOverridesConfig(t *testing.T) {
	fromConfig, fromFlag := t.TempDir(), t.TempDir()
	touch(t, debugfile.Path(fromConfig, testID))

	_, err := run(t, &config.Config{DebugFileDirectories: []string{fromConfig}}, "find", "-d", fromFlag, "abcdef0123456789")
	assert.ErrorIs(t, err, errNotFound)
}

func TestFindAll(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	touch(t, debugfile.Path(b, testID))

	out, err := run(t, nil, "find", "--all", "-d", a, "-d", b, "abcdef0123456789")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "missing\t"+debugfile.Path(a, testID), lines[0])
	assert.Equal(t, "found\t"+debugfile.Path(b, testID), lines[1])

	_, err = run(t, nil, "find", "--all", "-d", a, "0011")
	assert.ErrorIs(t, err, errNotFound)
}

func TestFindInvalidArgument(t *testing.T) {
	_, err := run(t, nil, "find", filepath.Join(t.TempDir(), "missing-binary"))
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	out, err := run(t, nil, "path", "DEADBEEF", "/dbg")
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/dbg/.build-id/de/adbeef.debug")+"\n", out)

	out, err = run(t, nil, "path", "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, debugfile.Path(debugfile.DefaultRoot, []byte{0xde, 0xad, 0xbe, 0xef})+"\n", out)
}

func TestParse(t *testing.T) {
	out, err := run(t, nil, "parse", "DeadBeef")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef\n", out)

	for _, bad := range []string{"", "abc", "zz"} {
		_, err := run(t, nil, "parse", bad)
		assert.Error(t, err, "%q", bad)
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, nil, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "buildid\nVersion: "))
}

func TestLogOutputWithoutLog(t *testing.T) {
	_, err := run(t, nil, "--log-output=resolver", "parse", "00")
	assert.Error(t, err)
}

func TestHelpHidesInapplicableFlags(t *testing.T) {
	out, err := run(t, nil, "help", "parse")
	require.NoError(t, err)
	assert.NotContains(t, out, "--debug-file-directory")
	assert.Contains(t, out, "--log")

	out, err = run(t, nil, "help", "find")
	require.NoError(t, err)
	assert.Contains(t, out, "--debug-file-directory")
	assert.Contains(t, out, "--all")
}
