package main

import (
	"fmt"
	"io"
	"os"
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "demo":
		return runDemoCmd(args[2:], stdout, stderr)
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "opid":
		return runOpIDCmd(args[2:], stdout, stderr)
	case "call":
		return runCallCmd(args[2:], stdout, stderr)
	case "serve-echo":
		return runServeEchoCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "organon %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGreen = "\033[32m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sOrganon %s%s\n", ColorBold+ColorBlue, version, ColorReset)
	fmt.Fprintf(w, "%sIntent, plan, act, result. The kernel computes.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  organon <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "LOOP")
	printCommand(w, "demo", "Run one intent → plan → act → result turn (--fixtures, --routes, --filter)")
	printCommand(w, "validate", "Validate a loop, kernel or boot document (--kind)")

	printSection(w, "KERNEL")
	printCommand(w, "opid", "Parse a gds.<facade>.<op> operation id")
	printCommand(w, "call", "Send one call through the wire port (--model, --input, --replay)")
	printCommand(w, "serve-echo", "Answer wire calls from Redis with an in-memory kernel")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sEnvironment: ORGANON_TRANSPORT=demo|redis, ORGANON_REDIS_ADDR, ORGANON_LOG_LEVEL, ORGANON_TAPE_DIR, ORGANON_RATE_LIMIT, ORGANON_OTLP_ENABLED%s\n", ColorGray, ColorReset)
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}
