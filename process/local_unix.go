//go:build unix

package process

import "syscall"

// The backend gets its own process group so a terminal interrupt aimed at
// the viewer does not reach it before the shutdown notification does.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
