// xml2trace converts an XML trace log into a trace database, the
// same transformation the daemon performs on a live TCP stream.
// The log is read from a file or from standard input.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/peterbourgon/ff/v4/ffval"

	"github.com/froglogic/tracer/server"
)

// Exit codes are part of the tool's contract with build scripts.
const (
	exitNone            = 0
	exitCommandLineArgs = 1
	exitOpen            = 2
	exitFile            = 3
	exitTransformation  = 4
)

func main() {
	os.Exit(exec(os.Args[1:], os.Stdin, os.Stderr))
}

func exec(args []string, stdin io.Reader, stderr io.Writer) int {
	var flags struct {
		output string
	}

	fs := ff.NewFlagSet("xml2trace")
	fs.AddFlag(ff.FlagConfig{ShortName: 'o', LongName: "output", Value: ffval.NewValue(&flags.output), Usage: "writes trace database to FILE", Placeholder: "FILE"})

	if err := ff.Parse(fs, args); err != nil {
		if errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(stderr, "%s\n", ffhelp.Flags(fs))
			return exitNone
		}
		fmt.Fprintln(stderr, "Invalid command line argument. Try --help.")
		return exitCommandLineArgs
	}

	if flags.output == "" {
		fmt.Fprintln(stderr, "Missing output trace database filename")
		fmt.Fprintf(stderr, "%s\n", ffhelp.Flags(fs))
		return exitCommandLineArgs
	}

	rest := fs.GetArgs()
	if len(rest) > 1 {
		fmt.Fprintln(stderr, "Invalid command line argument. Try --help.")
		return exitCommandLineArgs
	}

	db, err := server.OpenDatabase(flags.output)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open output trace database %s: %v\n", flags.output, err)
		return exitOpen
	}
	defer db.Close()

	input := stdin
	if len(rest) == 1 {
		f, err := os.Open(rest[0])
		if err != nil {
			fmt.Fprintf(stderr, "File '%s' cannot be opened for reading.\n", rest[0])
			return exitFile
		}
		defer f.Close()
		input = f
	}

	if err := server.ImportXML(input, server.NewDatabaseFeeder(db), nil); err != nil {
		fmt.Fprintf(stderr, "Transformation error: %v\n", err)
		return exitTransformation
	}
	return exitNone
}
