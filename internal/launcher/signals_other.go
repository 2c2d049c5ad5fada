//go:build !unix

package launcher

import (
	"os"
	"syscall"
)

var signalsByName = map[string]os.Signal{
	"INT":  os.Interrupt,
	"KILL": os.Kill,
	"TERM": syscall.SIGTERM,
}

func lookupSignal(name string) (os.Signal, bool) {
	sig, ok := signalsByName[name]
	return sig, ok
}

func exitCode(state *os.ProcessState) int {
	return state.ExitCode()
}
