//go:build unix

package process

import (
	"os"

	"golang.org/x/sys/unix"
)

var terminateSignal os.Signal = unix.SIGTERM

// checkExecutable asks the kernel whether the current user may execute path.
func checkExecutable(path string) error {
	if err := unix.Access(path, unix.X_OK); err != nil {
		return &os.PathError{Op: "access", Path: path, Err: err}
	}
	return nil
}
