package main

import (
	"os"

	dpapp "github.com/dandiarchive/dandipub/app"
)

func main() {
	dpapp.App.Reader = os.Stdin
	dpapp.App.Writer = os.Stdout
	dpapp.App.ErrWriter = os.Stderr
	if err := dpapp.App.Run(os.Args); err != nil {
		os.Exit(1)
	}
}
