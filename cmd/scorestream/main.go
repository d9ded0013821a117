package main

import (
	"embed"
	"fmt"
	"os"

	"github.com/zurustar/scorestream/pkg/app"
)

// soundfonts/GeneralUser-GS.sf2, when present at build time, is used when
// no --soundfont is given.
//
//go:embed soundfonts
var embeddedFiles embed.FS

func main() {
	application := app.New(embeddedFiles)
	if err := application.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
