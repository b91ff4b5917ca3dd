// Package repl implements the interactive read-eval-print loop the CLI
// falls into when invoked with no script on a terminal. Each line is
// compiled and run independently through the same D->E->F->G pipeline a
// whole module goes through; there is no persistent top-level scope across
// lines, matching a plain expression REPL rather than a stateful shell.
package repl

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"sentra/internal/bytecode"
	"sentra/internal/ir"
	"sentra/internal/lexer"
	"sentra/internal/module"
	"sentra/internal/parser"
	"sentra/internal/ssa"
	"sentra/internal/value"
	"sentra/internal/vm"
)

// REPL reads lines from stdin, evaluates each as a standalone expression,
// and prints its display form.
type REPL struct {
	loader *module.Loader
	m      *vm.Machine
}

func New(loader *module.Loader) *REPL {
	return &REPL{loader: loader, m: vm.New()}
}

func (r *REPL) Run() {
	fmt.Println("sentra REPL | type 'exit' to quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(">>> ")
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "exit" {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		result, err := r.eval(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Println(value.ToDisplayString(result))
	}
}

func (r *REPL) eval(line string) (value.Value, error) {
	tokens := lexer.NewScanner(line).ScanTokens()
	root, errs := parser.Parse(tokens, "<repl>")
	if len(errs) > 0 {
		return nil, errs[0]
	}
	iu, ierrs := ir.Build(root, r.loader.Globals())
	if len(ierrs) > 0 {
		return nil, ierrs[0]
	}
	su, serrs := ssa.Build(iu)
	if len(serrs) > 0 {
		return nil, serrs[0]
	}
	proto := bytecode.Compile(su, "<repl>")
	result := r.m.Run(proto, nil, nil)
	if exc, ok := result.(*value.Exception); ok {
		return nil, exc
	}
	return result, nil
}
