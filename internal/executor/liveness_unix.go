//go:build !windows && !js && !wasip1

package executor

import "golang.org/x/sys/unix"

// Alive probes whether id.PID still exists by sending signal 0 — no
// signal is actually delivered, only existence and permission are
// checked. EPERM still counts as alive: the process exists, we just
// cannot signal it.
func Alive(id ID) bool {
	err := unix.Kill(id.PID, 0)
	return err == nil || err == unix.EPERM
}
