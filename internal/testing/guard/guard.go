// Package guard switches the process into test mode when imported, so
// binaries exercised from tests skip their runtime startup.
package guard

import (
	"os"
	"sync"
)

const testModeEnv = "ATELIER_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}
