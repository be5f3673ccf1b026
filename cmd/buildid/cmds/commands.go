package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-delve/buildid/cmd/buildid/cmds/helphelpers"
	"github.com/go-delve/buildid/pkg/buildid"
	"github.com/go-delve/buildid/pkg/config"
	"github.com/go-delve/buildid/pkg/debugfile"
	"github.com/go-delve/buildid/pkg/logflags"
	"github.com/go-delve/buildid/pkg/objfile"
	"github.com/go-delve/buildid/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// debugFileDirs overrides the debug-file-directories config option.
	debugFileDirs []string

	// verbose makes 'id' print the container format and the CodeView record.
	verbose bool
	// listAll makes 'find' print every candidate path.
	listAll bool

	conf *config.Config
)

var (
	errNoBuildID = errors.New("no build id found")
	errNotFound  = errors.New("debug file not found")
)

const buildidCommandLongDesc = `buildid extracts the build identifier of ELF and COFF binaries and
uses it to locate separate debug info files.

ELF files are identified by their GNU build-id note, COFF files by the GUID
and age of their PDB 7.0 CodeView record. Debug files are looked up as

	<directory>/.build-id/<xx>/<rest of the build id>.debug

in each of the configured debug file directories, in order.`

// New returns an initialized command tree. If c is nil the configuration
// is loaded from the config file when a command runs.
func New(c *config.Config) *cobra.Command {
	conf = c

	rootCommand := &cobra.Command{
		Use:           "buildid",
		Short:         "Find build identifiers and the debug files they refer to.",
		Long:          buildidCommandLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logflags.Setup(log, logOutput, logDest); err != nil {
				return err
			}
			if conf == nil {
				conf = config.LoadConfig()
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logflags.Close()
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'buildid help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'buildid help log').")
	rootCommand.PersistentFlags().StringArrayVarP(&debugFileDirs, "debug-file-directory", "d", nil, "Directory containing a .build-id tree, can be repeated. Overrides the debug-file-directories config option.")

	// 'id' subcommand.
	idCommand := &cobra.Command{
		Use:   "id <path/to/binary>",
		Short: "Print the build identifier of a binary.",
		Long: `Print the build identifier of a binary in hexadecimal.

For ELF files this is the descriptor of the GNU build-id note, for COFF files
the 16 byte GUID of the PDB 7.0 CodeView record followed by its age as 4
little endian bytes.`,
		Args: cobra.ExactArgs(1),
		RunE: idCmd,
	}
	idCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "Also print the file format and the CodeView record.")
	rootCommand.AddCommand(idCommand)

	// 'find' subcommand.
	findCommand := &cobra.Command{
		Use:   "find <path/to/binary|build-id>",
		Short: "Locate the debug file of a binary or build identifier.",
		Long: `Locate the separate debug info file of a binary.

The argument is either the path of a binary or a hexadecimal build identifier.
The debug file directories are searched in order and the first existing
debug file is printed. If no directories are configured the platform default
directory is searched.`,
		Args: cobra.ExactArgs(1),
		RunE: findCmd,
	}
	findCommand.Flags().BoolVarP(&listAll, "all", "a", false, "Print every candidate path and whether it exists.")
	rootCommand.AddCommand(findCommand)

	// 'path' subcommand.
	rootCommand.AddCommand(&cobra.Command{
		Use:   "path <build-id> [directory]",
		Short: "Print the debug file path of a build identifier without looking it up.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseArg(args[0])
			if err != nil {
				return err
			}
			dir := debugfile.DefaultRoot
			if len(args) > 1 {
				dir = args[1]
			}
			fmt.Fprintln(cmd.OutOrStdout(), debugfile.Path(dir, id.Ref()))
			return nil
		},
	})

	// 'parse' subcommand.
	rootCommand.AddCommand(&cobra.Command{
		Use:   "parse <build-id>",
		Short: "Validate a hexadecimal build identifier and print it normalized.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseArg(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "buildid\n%s\n", version.BuildIDVersion)
			if verbose {
				fmt.Fprintln(cmd.OutOrStdout(), version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	buildid		Log malformed notes and debug directory entries that were skipped
	resolver	Log every debug file path probed
	config		Log configuration loading

If --log-output is not specified buildid and resolver are enabled.

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	return rootCommand
}

func idCmd(cmd *cobra.Command, args []string) error {
	f, err := objfile.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	id := buildid.Lookup(f)
	if len(id) == 0 {
		return fmt.Errorf("%w in %s", errNoBuildID, args[0])
	}

	out := cmd.OutOrStdout()
	if !verbose {
		fmt.Fprintln(out, id)
		return nil
	}
	fmt.Fprintf(out, "format:\t%s\n", f.Format())
	fmt.Fprintf(out, "id:\t%s\n", id)
	if cv := buildid.CodeViewInfo(f); cv != nil {
		fmt.Fprintf(out, "guid:\t%x\n", cv.GUID)
		fmt.Fprintf(out, "age:\t%d\n", cv.Age)
		fmt.Fprintf(out, "pdb:\t%s\n", cv.PDBFileName)
	}
	return nil
}

func findCmd(cmd *cobra.Command, args []string) error {
	id, err := lookupArg(args[0])
	if err != nil {
		return err
	}

	fetcher := debugfile.NewFetcher(directories())
	out := cmd.OutOrStdout()
	if listAll {
		return listCandidates(out, fetcher, id.Ref())
	}

	path, ok := fetcher.Fetch(id.Ref())
	if !ok {
		return fmt.Errorf("%w for build id %s", errNotFound, id)
	}
	fmt.Fprintln(out, path)
	return nil
}

func listCandidates(out io.Writer, fetcher *debugfile.Fetcher, id buildid.Ref) error {
	found := false
	for _, c := range fetcher.Probe(id) {
		status := "missing"
		if c.Found {
			status = "found"
			found = true
		}
		fmt.Fprintf(out, "%s\t%s\n", status, c.Path)
	}
	if !found {
		return fmt.Errorf("%w for build id %s", errNotFound, id)
	}
	return nil
}

// directories returns the debug file directories, the command line takes
// precedence over the configuration.
func directories() []string {
	if len(debugFileDirs) > 0 {
		return debugFileDirs
	}
	if conf != nil {
		return conf.DebugFileDirectories
	}
	return nil
}

// lookupArg interprets arg as the path of a binary or, if no such file
// exists, as a hexadecimal build identifier.
func lookupArg(arg string) (buildid.BuildID, error) {
	if _, err := os.Stat(arg); err != nil {
		if id := buildid.Parse(arg); len(id) > 0 {
			return id, nil
		}
		return nil, err
	}
	f, err := objfile.Open(arg)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	id := buildid.Lookup(f)
	if len(id) == 0 {
		return nil, fmt.Errorf("%w in %s", errNoBuildID, arg)
	}
	return id, nil
}

func parseArg(arg string) (buildid.BuildID, error) {
	id := buildid.Parse(arg)
	if len(id) == 0 {
		return nil, fmt.Errorf("invalid build id %q: must be a non empty, even length, hexadecimal string", arg)
	}
	return id, nil
}
