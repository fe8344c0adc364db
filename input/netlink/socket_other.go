//go:build !linux

package netlink

import (
	"fmt"
	"runtime"

	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
)

func openSocket(Config) (Source, error) {
	return nil, errors.WrapFatal(fmt.Errorf("netlink sockets are not available on %s", runtime.GOOS),
		"Input", "Open", "create netlink socket")
}

func permanentOpenError(error) bool { return true }
