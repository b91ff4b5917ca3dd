// cmd/sentra/main.go
package main

import (
	"bufio"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"sentra/internal/module"
	"sentra/internal/repl"
	"sentra/internal/value"
)

const VERSION = "1.0.0"

func main() {
	args := os.Args[1:]

	var searchPath []string
	var prefix string
	var logLevel = "warning"
	var traceHead, traceTail int
	var batchMode bool
	var script string

	i := 0
	for i < len(args) {
		a := args[i]
		switch {
		case a == "-h" || a == "--help":
			showUsage()
			return
		case a == "-v" || a == "--version":
			fmt.Println("sentra " + VERSION)
			return
		case a == "-L":
			i++
			if i >= len(args) {
				log.Fatalf("Error: -L requires a directory argument")
			}
			searchPath = append(searchPath, args[i])
		case strings.HasPrefix(a, "-L"):
			searchPath = append(searchPath, strings.TrimPrefix(a, "-L"))
		case a == "--prefix":
			i++
			if i >= len(args) {
				log.Fatalf("Error: --prefix requires an argument")
			}
			prefix = args[i]
		case strings.HasPrefix(a, "--prefix="):
			prefix = strings.TrimPrefix(a, "--prefix=")
		case a == "--module-path":
			i++
			if i >= len(args) {
				log.Fatalf("Error: --module-path requires an argument")
			}
			searchPath = append(searchPath, strings.Split(args[i], string(os.PathListSeparator))...)
		case strings.HasPrefix(a, "--module-path="):
			searchPath = append(searchPath, strings.Split(strings.TrimPrefix(a, "--module-path="), string(os.PathListSeparator))...)
		case a == "--log-level":
			i++
			if i >= len(args) {
				log.Fatalf("Error: --log-level requires an argument")
			}
			logLevel = args[i]
		case strings.HasPrefix(a, "--log-level="):
			logLevel = strings.TrimPrefix(a, "--log-level=")
		case a == "--trace-limit":
			i++
			if i >= len(args) {
				log.Fatalf("Error: --trace-limit requires an argument")
			}
			traceHead, traceTail = parseTraceLimit(args[i])
		case strings.HasPrefix(a, "--trace-limit="):
			traceHead, traceTail = parseTraceLimit(strings.TrimPrefix(a, "--trace-limit="))
		case a == "-b" || a == "--batch-mode":
			batchMode = true
		default:
			if script == "" {
				script = a
			} else {
				log.Fatalf("Error: unexpected argument %q", a)
			}
		}
		i++
	}

	setLogLevel(logLevel)
	if prefix != "" {
		searchPath = append(searchPath, prefix)
	}

	loader := module.NewLoader(searchPath, module.DefaultGlobals())

	switch {
	case script != "":
		runFile(loader, script, traceHead, traceTail)
	case batchMode:
		runStdin(loader, traceHead, traceTail)
	case isatty.IsTerminal(os.Stdin.Fd()):
		repl.New(loader).Run()
	default:
		runStdin(loader, traceHead, traceTail)
	}
}

func runFile(loader *module.Loader, path string, traceHead, traceTail int) {
	mod, err := loader.Load(path)
	if err != nil {
		printFailure(err, traceHead, traceTail)
		os.Exit(1)
	}
	os.Exit(exitStatus(mod.Result))
}

func runStdin(loader *module.Loader, traceHead, traceTail int) {
	src, err := ioutil.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		log.Fatalf("Error: reading stdin: %v", err)
	}
	tmp, err := ioutil.TempFile("", "sentra-stdin-*.eth")
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(src); err != nil {
		log.Fatalf("Error: %v", err)
	}
	tmp.Close()
	runFile(loader, tmp.Name(), traceHead, traceTail)
}

// exitStatus maps a module's top-level result to a process exit code: an
// explicit `exit(n)` value wins, anything else is a clean run.
func exitStatus(result value.Value) int {
	if exit, ok := result.(*value.Exit); ok {
		return exit.Status
	}
	return 0
}

func printFailure(err error, head, tail int) {
	fmt.Fprintln(os.Stderr, "sentra: "+err.Error())
	if exc, ok := cause(err).(*value.Exception); ok {
		printTrace(exc, head, tail)
	}
}

// cause unwraps github.com/pkg/errors' Wrap chain back to the originating
// *value.Exception, the way a caller is expected to via errors.Cause.
func cause(err error) error {
	type causer interface{ Cause() error }
	for {
		c, ok := err.(causer)
		if !ok {
			return err
		}
		err = c.Cause()
	}
}

// printTrace renders an exception's trace honoring --trace-limit
// head[,tail]: show the first `head` frames and last `tail` frames, eliding
// the middle when the trace is longer than head+tail combined.
func printTrace(exc *value.Exception, head, tail int) {
	n := len(exc.Trace)
	if head <= 0 && tail <= 0 {
		head, tail = n, 0
	}
	for idx, loc := range exc.Trace {
		if idx < head || idx >= n-tail {
			fmt.Fprintf(os.Stderr, "  at %s\n", loc.String())
		} else if idx == head {
			fmt.Fprintf(os.Stderr, "  ... %d frames elided ...\n", n-head-tail)
		}
	}
}

func parseTraceLimit(s string) (head, tail int) {
	parts := strings.SplitN(s, ",", 2)
	head, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	if len(parts) == 2 {
		tail, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return head, tail
}

var logLevels = map[string]int{"debug": 0, "warning": 1, "error": 2}

var currentLogLevel = 1

func setLogLevel(name string) {
	if lvl, ok := logLevels[name]; ok {
		currentLogLevel = lvl
	}
	log.SetFlags(0)
}

func logAt(level string, format string, args ...interface{}) {
	lvl, ok := logLevels[level]
	if !ok || lvl < currentLogLevel {
		return
	}
	log.Printf("["+level+"] "+format, args...)
}

func showUsage() {
	fmt.Println(`sentra ` + VERSION + ` - a small functional language runtime

Usage:
  sentra [options] [script]

Options:
  -h, --help              show this help message
  -v, --version           show version information
  -L DIR                  prepend DIR to the module search path (repeatable)
  --prefix DIR             install-prefix directory added to the search path
  --module-path PATH       ` + string(os.PathListSeparator) + `-separated list of directories added to the search path
  --log-level LEVEL        debug, warning, or error (default warning)
  --trace-limit H[,T]      show the first H and last T exception trace frames
  -b, --batch-mode         read and run a script from stdin without starting the REPL

With no script and a terminal on stdin, sentra starts an interactive REPL.`)
}
