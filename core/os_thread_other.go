//go:build !linux

package core

func currentOSThreadID() int {
	return -1
}
