package main

import (
	"fmt"
	"os"

	"github.com/nbdd0121/unwinding/pkg/scenario"
)

// loadScenario reads and runs a Starlark scenario script from path,
// returning the Scenario it built.
func loadScenario(path string) (*scenario.Scenario, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}
	sc, err := scenario.LoadScript(path, src)
	if err != nil {
		return nil, err
	}
	if len(sc.Frames) == 0 {
		return nil, fmt.Errorf("scenario %s defines no frames", path)
	}
	return sc, nil
}
