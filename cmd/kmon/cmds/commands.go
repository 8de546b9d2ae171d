package cmds

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-delve/kmon/pkg/config"
	"github.com/go-delve/kmon/pkg/logflags"
	"github.com/go-delve/kmon/pkg/terminal"
	"github.com/go-delve/kmon/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// kernbase overrides the kernbase configuration key.
	kernbase string

	// physical maps core segments at their physical address plus kernbase.
	physical bool
	// frame pointer backtraces start from, overrides the one in the core.
	framePointer string
	// trapFrame is the address of a trap frame saved by the kernel.
	trapFrame string
	// raw loads the memory file as a flat dump mapped at rawBase.
	raw      bool
	rawBase  string
	wordSize int

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const kmonCommandLongDesc = `kmon is a kernel monitor for stopped kernels and processes.

It opens a kernel image together with a dump of its memory, or attaches to a
running process, and starts the JOS kernel monitor on it: a prompt that
understands help, kerninfo and backtrace.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main kmon root command.
	rootCommand = &cobra.Command{
		Use:   "kmon",
		Short: "kmon is a kernel monitor for post-mortem and live targets.",
		Long:  kmonCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'kmon help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'kmon help log').")
	rootCommand.PersistentFlags().StringVar(&kernbase, "kernbase", "", "Virtual address physical memory is mapped at (default from config, 0xf0000000).")

	// 'core' subcommand.
	coreCommand := &cobra.Command{
		Use:   "core <kernel> <core>",
		Short: "Examine a kernel memory dump.",
		Long: `Examine a kernel memory dump.

The core command opens the kernel image and an ELF core file, as written by
QEMU's dump-guest-memory or by the Linux kernel, and starts a monitor
session on the state the dump was taken in. The registers of the first
thread in the core are printed as a trap frame and backtraces start from
its frame pointer.

With --raw the core is a flat memory dump mapped at --base, it carries no
registers and --fp or --trapframe should be given. --trapframe reads the
trap frame the kernel saved at that address and uses it instead of the
registers of the core.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return errors.New("you must provide a kernel image and a core file")
			}
			return nil
		},
		Run: coreCmd,
	}
	addCoreFlags(coreCommand.Flags())
	rootCommand.AddCommand(coreCommand)

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid [executable]",
		Short: "Attach to running process and start a monitor on it.",
		Long: `Attach to an already running process and start a monitor on it.

The process is stopped for the duration of the session and released when
the monitor exits. Only linux/amd64 is supported.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a PID")
			}
			return nil
		},
		Run: attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'version' subcommand.
	var versionVerbose = false
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kmon Kernel Monitor\n%s\n", version.KmonVersion)
			if versionVerbose {
				fmt.Printf("Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	monitor		Log dispatched commands
	stack		Log every walked stack frame
	symbols		Log symbol loading and cache misses
	memory		Log mapped core segments

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func addCoreFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&physical, "physical", false, "Map core segments at their physical address plus kernbase.")
	fs.StringVar(&framePointer, "fp", "", "Frame pointer backtraces start from.")
	fs.StringVar(&trapFrame, "trapframe", "", "Address of a saved i386 trap frame to enter the monitor with.")
	fs.BoolVar(&raw, "raw", false, "The core file is a flat memory dump.")
	fs.StringVar(&rawBase, "base", "0", "Address a raw dump is mapped at.")
	fs.IntVar(&wordSize, "word-size", 0, "Word size of a raw dump, defaults to the class of the kernel image.")
}

func coreCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(func() (*session, error) {
		return openCore(args[0], args[1])
	}))
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
		os.Exit(1)
	}
	exe := ""
	if len(args) > 1 {
		exe = args[1]
	}
	os.Exit(execute(func() (*session, error) {
		return attach(pid, exe)
	}))
}

func execute(open func() (*session, error)) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	s, err := open()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer s.Close()

	term := terminal.New(s.target, conf)
	return term.Run(s.trap)
}

// getKernBase returns the kernbase flag, or the configured value.
func getKernBase() (uint64, error) {
	if kernbase == "" {
		return conf.GetKernBase(), nil
	}
	return parseAddr("kernbase", kernbase)
}

func parseAddr(name, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}
