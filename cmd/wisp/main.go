package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/wisplang/wisp"
	"github.com/wisplang/wisp/ascii"
)

func reportError(err error) {
	fmt.Fprintln(os.Stderr, ascii.Color(ascii.DefaultTheme.Error, "wisp: %s", err.Error()))
}

// args mirrors the teacher's cmd/langlang flag-struct layout, cut
// down to the handful of flags §6.3 actually names.
type args struct {
	chunk       *string
	library     *string
	interactive *bool
	disassemble *bool
}

func readArgs() *args {
	a := &args{
		chunk:       flag.String("e", "", "Execute the given chunk of code"),
		library:     flag.String("l", "", "Require a module before running the script"),
		interactive: flag.Bool("i", false, "Force an interactive prompt after running the script"),
		disassemble: flag.Bool("dis", false, "Print the compiled bytecode for the script instead of running it"),
	}
	flag.Parse()
	return a
}

func main() {
	a := readArgs()

	gs := wisp.NewState()
	wisp.RegisterStdlib(gs)

	ran := false

	if *a.library != "" {
		source, err := os.ReadFile(*a.library)
		if err != nil {
			log.Fatalf("cannot open library %s: %s", *a.library, err.Error())
		}
		if _, err := wisp.RunFile(gs, *a.library, source); err != nil {
			log.Fatal(err)
		}
	}

	if *a.chunk != "" {
		if _, err := wisp.Run(gs, "=(command line)", *a.chunk); err != nil {
			reportError(err)
			os.Exit(1)
		}
		ran = true
	}

	if path := flag.Arg(0); path != "" {
		source, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("cannot open %s: %s", path, err.Error())
		}
		if *a.disassemble {
			proto, err := wisp.Parse(path, string(source), wisp.DefaultCompilerConfig())
			if err != nil {
				reportError(err)
				os.Exit(1)
			}
			wisp.Disassemble(os.Stdout, proto)
			return
		}
		if _, err := wisp.RunFile(gs, path, source); err != nil {
			reportError(err)
			os.Exit(1)
		}
		ran = true
	}

	if *a.interactive || !ran {
		repl(gs)
	}
}

// repl is a line-at-a-time interactive prompt, the same bufio.Reader
// shape as the teacher's own `-interactive` mode in cmd/langlang, one
// `Run` call per line instead of one `MatchE` call per line.
func repl(gs *wisp.GlobalState) {
	reader := bufio.NewReader(os.Stdin)
	for i := 1; ; i++ {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if line == "" && err != nil {
			fmt.Println()
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		results, err := wisp.Run(gs, fmt.Sprintf("=(repl %d)", i), line)
		if err != nil {
			fmt.Println(ascii.Color(ascii.DefaultTheme.Error, "ERROR: %s", err.Error()))
			continue
		}
		for _, v := range results {
			fmt.Println(wisp.ToDisplayString(gs, v))
		}
	}
}
