//go:build !unix

package process

import (
	"fmt"
	"os"
)

var terminateSignal os.Signal = os.Kill

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
