package util

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Options configures a single run of the front-end driver in cmd/xojit.
// The front-end itself (src/codegen, src/jit) takes no flags or files;
// Options exists for the surrounding application, the way the teacher's
// own Options exists only for its main().
type Options struct {
	Out          string // Optional path to dump the committed module as an object file.
	Verbose      bool   // Set true to print the generated IR (after optimisation) to stdout.
	TargetArch   int    // Output target architecture. 0 = host default.
	TargetVendor int    // Output target vendor type. 0 = unknown.
	TargetCPU    int    // Output target CPU. 0 = generic CPU.
	TargetOS     int    // Output target operating system type.
}

// ---------------------
// ----- Constants -----
// ---------------------

const appVersion = "xo-jit 0.1"

// Target machine architectures.
const (
	UnknownArch = iota
	X86_64
	X86_32
	Aarch64
	Riscv64
	Riscv32
)

// Target operating system.
const (
	UnknownOS = iota
	Linux
	Windows
	MAC
)

// Target vendor.
const (
	UnknownVendor = iota
	Apple
	PC
	IBM
)

// ---------------------
// ----- functions -----
// ---------------------

// ParseArgs parses command line arguments for cmd/xojit.
func ParseArgs() (Options, error) {
	opt := Options{}
	if len(os.Args) < 2 {
		return opt, nil
	}
	args := os.Args[1:]
	for i1 := 0; i1 < len(args); i1++ {
		switch args[i1] {
		case "-h", "--h", "-help", "--help":
			printHelp()
			os.Exit(0)
		case "-o":
			if i1+1 >= len(args) {
				return opt, fmt.Errorf("got flag %s but no argument", args[i1])
			}
			opt.Out = args[i1+1]
			i1++
		case "-arch":
			if i1+1 >= len(args) {
				return opt, fmt.Errorf("got flag %s but no argument", args[i1])
			}
			switch args[i1+1] {
			case "aarch64":
				opt.TargetArch = Aarch64
			case "riscv64":
				opt.TargetArch = Riscv64
			case "riscv32":
				opt.TargetArch = Riscv32
			case "x86_64":
				opt.TargetArch = X86_64
			case "x86_32":
				opt.TargetArch = X86_32
			default:
				return opt, fmt.Errorf("unexpected architecture identifier: %s", args[i1+1])
			}
			i1++
		case "-os":
			if i1+1 >= len(args) {
				return opt, fmt.Errorf("got flag %s but no argument", args[i1])
			}
			switch args[i1+1] {
			case "linux":
				opt.TargetOS = Linux
			case "windows":
				opt.TargetOS = Windows
			case "mac":
				opt.TargetOS = MAC
			default:
				return opt, fmt.Errorf("unexpected operating system identifier: %s", args[i1+1])
			}
			i1++
		case "-vendor":
			if i1+1 >= len(args) {
				return opt, fmt.Errorf("got flag %s but no argument", args[i1])
			}
			switch args[i1+1] {
			case "pc":
				opt.TargetVendor = PC
			case "apple":
				opt.TargetVendor = Apple
			case "ibm":
				opt.TargetVendor = IBM
			default:
				return opt, fmt.Errorf("unexpected vendor identifier: %s", args[i1+1])
			}
			i1++
		case "-v", "--v", "-version", "--version":
			fmt.Println(appVersion)
			os.Exit(0)
		case "-vb":
			opt.Verbose = true
		default:
			if strings.HasPrefix(args[i1], "-") {
				return opt, fmt.Errorf("unexpected flag: %s", args[i1])
			}
		}
	}
	return opt, nil
}

// printHelp prints a helpful usage message to stdout.
func printHelp() {
	w := tabwriter.NewWriter(os.Stdout, 6, 1, 1, 0, 0)
	_, _ = fmt.Fprintln(w, "-h, -help\tPrints this help message and exits.")
	_, _ = fmt.Fprintln(w, "-o\tPath to dump the committed module as an object file.")
	_, _ = fmt.Fprintln(w, "-arch\tOutput architecture. One of aarch64, riscv32, riscv64, x86_32, x86_64.")
	_, _ = fmt.Fprintln(w, "-os\tOutput operating system. One of linux, windows, mac.")
	_, _ = fmt.Fprintln(w, "-vendor\tOutput vendor. One of pc, apple, ibm.")
	_, _ = fmt.Fprintln(w, "-v, -version\tPrints application version and exits.")
	_, _ = fmt.Fprintln(w, "-vb\tVerbose mode: print the generated IR (after optimisation) to stdout.")
	_ = w.Flush()
}
