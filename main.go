package main

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"codemerge/logger"

	"github.com/jessevdk/go-flags"
)

type globalOptions struct {
	Config  string `short:"c" long:"config" description:"YAML config file, overlaid by CODEMERGE_CONFIG" value-name:"FILE"`
	Verbose bool   `short:"v" long:"verbose" description:"Log debug output to stderr (preview, apply, watch)"`
}

var opts globalOptions

// Setup logger to log to a file in the same directory as the executable
// Caller must defer logger.Close()
func setupLogger(logLevel string) *logger.LimitedLogger {
	ll, err := logger.Open(runtimePath("codemerge.log"), logger.ParseLogLevel(logLevel))
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	log.SetOutput(ll)
	log.SetFlags(0)
	return ll
}

// setupCLILogger keeps logging on stderr for the one-shot commands
func setupCLILogger() {
	if opts.Verbose {
		logger.SetGlobalLevel(logger.LogLevelDebug)
	} else {
		logger.SetGlobalLevel(logger.LogLevelWarn)
	}
}

// runtimePath places socket, pid and log files next to the executable
func runtimePath(name string) string {
	execPath, err := os.Executable()
	if err != nil {
		log.Fatalf("error getting executable path: %v", err)
	}
	return filepath.Join(filepath.Dir(execPath), name)
}

func getSocketPath() string { return runtimePath("codemerge.sock") }

func getPidPath() string { return runtimePath("codemerge.pid") }

func isDaemonRunning() (bool, int) {
	data, err := os.ReadFile(getPidPath())
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return false, 0
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}

	// On Unix, Signal(0) checks if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil, pid
}

func newParser() *flags.Parser {
	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = true

	commands := []struct {
		name, short, long string
		data              any
	}{
		{"client", "Relay stdio to the daemon (default)",
			"Connects the editor's stdio to the daemon socket, starting the daemon if it is not running.", &clientCommand{}},
		{"daemon", "Serve Neovim RPC on a unix socket",
			"Runs the preview engine and serves editor connections until idle.", &daemonCommand{}},
		{"preview", "Render a proposal against a file",
			"Merges the proposal into the original file and prints the annotated preview.", &previewCommand{}},
		{"apply", "Merge a proposal and print the resulting diff",
			"Merges the proposal, accepting every change, and prints a unified diff. With -w the file is rewritten.", &applyCommand{}},
		{"watch", "Re-render a proposal whenever it changes",
			"Watches the proposal file and re-renders the preview on every write, for proposals still being streamed.", &watchCommand{}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			log.Fatalf("register command %s: %v", c.name, err)
		}
	}
	return parser
}

func main() {
	parser := newParser()
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	// No subcommand: behave like "client", which is how the plugin spawns us
	if parser.Active == nil {
		if err := (&clientCommand{}).Execute(nil); err != nil {
			logger.Fatal("%v", err)
		}
	}
}
