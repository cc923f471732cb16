package main

import (
	"flag"
	"fmt"
	"os"

	"gocc/pkg/compiler"
	"gocc/pkg/vm"
)

func main() {
	dumpTokens := flag.Bool("tokens", false, "dump the token stream")
	dumpAST := flag.Bool("ast", false, "dump the AST")
	dumpText := flag.Bool("s", false, "dump the generated instructions and exit without running")
	trace := flag.Bool("trace", false, "print every executed instruction to stderr")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] file.c\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read error:", err)
		os.Exit(1)
	}
	src := string(data)

	tokens, err := compiler.Lex(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *dumpTokens {
		fmt.Printf("Tokens (%d)\n", len(tokens))
		for _, tok := range tokens {
			fmt.Println(" ", tok)
		}
		fmt.Println()
	}

	program, syms, err := compiler.Parse(tokens, src)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *dumpAST {
		fmt.Println("AST")
		fmt.Print(compiler.DumpAST(program))
		fmt.Println()
	}

	prog, err := compiler.Generate(program, syms)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *dumpText {
		fmt.Printf("Text (%d instructions)\n", len(prog.Text))
		for idx, in := range prog.Text {
			fmt.Printf("%4d  %s\n", idx, in)
		}
		fmt.Printf("Data (%d cells)\n", len(prog.Data))
		fmt.Print(syms)
		return
	}

	m := vm.NewVM(prog)
	if *trace {
		m.Trace = func(r vm.TraceRecord) {
			fmt.Fprintln(os.Stderr, r)
		}
	}
	code, err := m.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(code)
}
