//go:build !unix

package catalog

import "os/exec"

func killProcessGroupOnCancel(cmd *exec.Cmd) {}
