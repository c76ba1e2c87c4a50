//go:build linux

package observability

import "testing"

func TestReadProcessCPUTimes(t *testing.T) {
	if _, err := readProcessCPUTimes(); err != nil {
		t.Fatalf("getrusage: %v", err)
	}
}
