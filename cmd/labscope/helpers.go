package main

import (
	"fmt"
	"os"

	"github.com/edulabs/labscope/internal/config"
	"github.com/edulabs/labscope/internal/module"
	"github.com/edulabs/labscope/internal/render"
)

// fatalError prints the error and exits. Commands call it for faults
// that make continuing pointless.
func fatalError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func fatalErrorf(format string, args ...any) {
	fatalError(fmt.Errorf(format, args...))
}

// newReport builds the verdict renderer. --pretty=false forces plain
// output; otherwise piped stdout disables color automatically.
func newReport() *render.Report {
	if !pretty {
		return render.NewReportWriter(os.Stdout, false)
	}
	return render.NewReport()
}

// loadCatalog reads the module catalog, falling back to the labscope
// home directory when no path is given.
func loadCatalog(path string) (*module.StaticCatalog, error) {
	if path == "" {
		path = config.Path("modules.yaml")
	}
	return module.LoadCatalog(path)
}
