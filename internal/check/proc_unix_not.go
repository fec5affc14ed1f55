//go:build !unix

package check

import "os/exec"

// setProcessGroup is a no-op, exec.CommandContext kills the shell only.
func setProcessGroup(_ *exec.Cmd) {}
