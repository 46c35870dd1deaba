package e2e

import (
	"os"
	"testing"
)

// TestUnmount tests that files are no longer reachable after unmounting
func TestUnmount(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		filePath := tc.Path("before_unmount.txt")
		if err := os.WriteFile(filePath, []byte("test"), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}

		tc.Unmount()

		if _, err := os.Stat(filePath); err == nil {
			t.Errorf("Should not be able to access file after unmount")
		}
		if !tc.Remote.Exists(remotePath("before_unmount.txt")) {
			t.Errorf("File should survive the unmount on the remote side")
		}
	})
}

// TestHealthProbe tests the endpoint probe used at startup
func TestHealthProbe(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		if tc.Remote.Count("GETFILESTATUS") == 0 {
			t.Errorf("Expected the startup probe to query the root")
		}
	})
}
