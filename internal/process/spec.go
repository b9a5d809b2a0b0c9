package process

import (
	"os/exec"

	"github.com/loykin/naidesk/internal/logger"
)

// Spec describes an executable to spawn as a child process.
type Spec struct {
	Name    string        `json:"name"`     // label used for logs and output files
	Path    string        `json:"path"`     // absolute path of the executable
	Args    []string      `json:"args"`     // arguments, not including the program name
	WorkDir string        `json:"work_dir"` // optional working dir
	Env     []string      `json:"env"`      // full environment; nil inherits the parent's, empty means none
	Log     logger.Config `json:"log"`      // stdout/stderr capture; disabled when empty
}

// BuildCommand constructs the *exec.Cmd for the spec without starting it.
// No shell is involved; Path is executed directly.
func (s Spec) BuildCommand() *exec.Cmd {
	// #nosec G204 -- path is resolved by the caller from fixed candidate locations
	cmd := exec.Command(s.Path, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if s.Env != nil {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd)
	return cmd
}
