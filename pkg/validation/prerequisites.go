package validation

import (
	"context"
	"fmt"
	"os/exec"
)

// LookPathFunc resolves an executable name; exec.LookPath in production.
type LookPathFunc func(file string) (string, error)

// PrerequisitesCheck reports every declared tool that is not on PATH.
func PrerequisitesCheck(tools []string, lookPath LookPathFunc) Check {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	names := dedupe(tools)

	return NewCheck("prerequisites", func(_ context.Context) []Finding {
		var findings, missing []Finding
		for _, tool := range names {
			path, err := lookPath(tool)
			if err != nil {
				missing = append(missing, Fail("prerequisites", tool,
					fmt.Sprintf("%s not found on PATH", tool),
					fmt.Sprintf("Install %s and make sure it is on your PATH", tool)))
				continue
			}
			findings = append(findings, Pass("prerequisites", tool+" found at "+path))
		}
		if len(missing) > 0 {
			return missing
		}
		if len(findings) == 0 {
			findings = append(findings, Pass("prerequisites", "no prerequisites declared"))
		}
		return findings
	})
}
