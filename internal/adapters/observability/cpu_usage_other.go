//go:build !linux

package observability

import "errors"

func readProcessCPUTimes() (CPUTimes, error) {
	return CPUTimes{}, errors.New("cpu usage: unsupported platform")
}
