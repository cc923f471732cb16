package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"gocc/pkg/compiler"
	"gocc/pkg/vm"
)

const (
	historyFile = ".gocc_history"
	promptMain  = "cc> "
	promptCont  = "... "
)

const helpText = `Enter an expression to evaluate it, or a full program
(declarations starting with int/char) to compile and run it.
Input is accumulated until braces balance.

Commands:
  :help    Show this text
  :quit    Exit the console
`

func main() {
	os.Exit(run())
}

func run() int {
	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	fmt.Println("gocc console. Ctrl+D or :quit to exit, :help for help.")

	for {
		input, ok := readInput(ln)
		if !ok {
			return 0
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		ln.AppendHistory(input)

		switch input {
		case ":quit", ":q":
			return 0
		case ":help", ":h":
			fmt.Print(helpText)
			continue
		}

		execute(input)
	}
}

// readInput accumulates lines until every opened brace is closed. It returns
// false on EOF.
func readInput(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return "", false
		}
		b.WriteString(line)
		b.WriteString("\n")
		if braceBalance(b.String()) <= 0 {
			return b.String(), true
		}
	}
}

func braceBalance(src string) int {
	depth := 0
	for _, r := range src {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return depth
}

// execute compiles and runs one console entry. Bare expressions are wrapped
// in a main that prints their value.
func execute(input string) {
	src := input
	if !isProgram(input) {
		src = fmt.Sprintf("int main() { printf(\"%%d\\n\", (%s)); return 0; }",
			strings.TrimSuffix(strings.TrimSpace(input), ";"))
	}

	prog, err := compiler.Compile(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	m := vm.NewVM(prog)
	m.RunLimit = 50_000_000
	code, err := m.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	if code != 0 {
		fmt.Printf("exit %d\n", code)
	}
}

// isProgram reports whether the input starts with a declaration keyword and
// should be compiled as-is.
func isProgram(input string) bool {
	trimmed := strings.TrimSpace(input)
	return strings.HasPrefix(trimmed, "int ") ||
		strings.HasPrefix(trimmed, "char ") ||
		strings.HasPrefix(trimmed, "int*") ||
		strings.HasPrefix(trimmed, "char*")
}
