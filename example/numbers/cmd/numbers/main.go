// Command numbers runs the integers 1..N through a chunk-oriented step.
package main

import (
	_ "embed"
	"os"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// embeddedConfig is the default application configuration. Environment variables with the
// CHUNKFLOW_ prefix override it.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Errorf("numbers: %v", err)
		os.Exit(1)
	}
}
