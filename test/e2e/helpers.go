package e2e

import (
	"testing"
)

// runOnAllConfigs is a helper that runs a test on all configurations
func runOnAllConfigs(t *testing.T, testFunc func(t *testing.T, tc *TestContext)) {
	t.Helper()

	for _, config := range AllConfigurations() {
		t.Run(config.Name, func(t *testing.T) {
			tc := NewTestContext(t, config)
			defer tc.Cleanup()

			testFunc(t, tc)
		})
	}
}

// remotePath maps a path relative to the mount to the fake endpoint, whose
// root is the mount root.
func remotePath(relativePath string) string {
	return "/" + relativePath
}
