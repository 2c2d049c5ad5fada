//go:build unix

package launcher

import (
	"os"
	"strconv"
	"syscall"
)

var signalsByName = map[string]os.Signal{
	"HUP":  syscall.SIGHUP,
	"INT":  syscall.SIGINT,
	"QUIT": syscall.SIGQUIT,
	"KILL": syscall.SIGKILL,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
	"TERM": syscall.SIGTERM,
	"CONT": syscall.SIGCONT,
	"STOP": syscall.SIGSTOP,
	"XCPU": syscall.SIGXCPU,
}

// lookupSignal resolves a scheduler signal name or number.
func lookupSignal(name string) (os.Signal, bool) {
	if n, err := strconv.Atoi(name); err == nil && n > 0 {
		return syscall.Signal(n), true
	}
	sig, ok := signalsByName[name]
	return sig, ok
}

// exitCode maps a finished process to a shell-style status: the exit code,
// or 128+signo when the process was killed by a signal.
func exitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
