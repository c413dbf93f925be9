package utils

import (
	"syscall"
)

const (
	SigShutdown = syscall.SIGTERM
	SigRestart  = syscall.SIGHUP
	SigDump     = syscall.SIGUSR1
)
