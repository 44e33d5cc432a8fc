package validation

import (
	"context"
	"fmt"
)

// LookupFunc resolves an environment variable. The bool reports whether the
// variable is set.
type LookupFunc func(name string) (string, bool)

// EnvironmentCheck reports every required variable that is unset or empty.
func EnvironmentCheck(required []string, lookup LookupFunc) Check {
	names := dedupe(required)

	return NewCheck("environment", func(_ context.Context) []Finding {
		var findings []Finding
		for _, name := range names {
			if v, ok := lookup(name); ok && v != "" {
				continue
			}
			findings = append(findings, Fail("environment", name,
				name+" missing",
				fmt.Sprintf("Set %s in your .env file or environment", name)))
		}
		if len(findings) == 0 {
			findings = append(findings, Pass("environment", fmt.Sprintf("%d required variables set", len(names))))
		}
		return findings
	})
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
