package tutil

import (
	"os"
	"strings"
)

// IsIntegrationTest reports whether SFTPDAV_TEST=integration is set. Tests that
// need docker or a real SSH server skip themselves otherwise.
func IsIntegrationTest() bool {
	testType := os.Getenv("SFTPDAV_TEST")
	return strings.ToLower(testType) == "integration"
}
