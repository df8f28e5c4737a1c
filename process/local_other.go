//go:build !unix && !windows

package process

import "syscall"

func sysProcAttr() *syscall.SysProcAttr { return nil }
