//go:build !linux && !darwin

package api

import "errors"

func freeBytes(string) (uint64, error) {
	return 0, errors.New("disk usage not supported on this platform")
}
