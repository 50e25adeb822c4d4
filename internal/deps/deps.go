package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names an external binary and whether the tick can run without it.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is the lookup result for one Requirement. Path is the resolved
// executable when Available.
type Status struct {
	Requirement
	Available bool
	Path      string
	Detail    string
}

// LookPathFunc resolves a command name to an executable path.
type LookPathFunc func(file string) (string, error)

// CheckBinaries resolves every requirement on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	return CheckBinariesWith(exec.LookPath, requirements)
}

// CheckBinariesWith resolves requirements with lookPath, preserving order.
func CheckBinariesWith(lookPath LookPathFunc, requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		req.Description = strings.TrimSpace(req.Description)
		status := Status{Requirement: req}
		if req.Command == "" {
			status.Detail = "command not configured"
		} else if path, err := lookPath(req.Command); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", req.Command)
		} else {
			status.Available = true
			status.Path = path
		}
		results = append(results, status)
	}
	return results
}
