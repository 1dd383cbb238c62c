package jobspec

import (
	"fmt"
	"strings"
)

// Script renders the self-contained batch script handed to sbatch.
//
// Layout:
//
//	#!/bin/bash
//	#SBATCH directives (name, account, logs, partition, geometry, mem, time)
//	set -euo pipefail
//	setup lines
//	pipeline invocation
//
// Rendering is pure: the same JobSpec always yields the same bytes.
func (s *JobSpec) Script() string {
	var b strings.Builder

	b.WriteString("#!/bin/bash\n")
	directive(&b, "job-name", s.Name)
	if s.Directives.Account != "" {
		directive(&b, "account", s.Directives.Account)
	}
	directive(&b, "output", s.StdoutPath())
	directive(&b, "error", s.StderrPath())
	if s.Directives.Partition != "" {
		directive(&b, "partition", s.Directives.Partition)
	}
	directive(&b, "nodes", itoa(s.Resources.Nodes))
	directive(&b, "ntasks", itoa(s.Resources.Tasks))
	directive(&b, "cpus-per-task", itoa(s.Resources.CPUs))
	directive(&b, "mem", s.Resources.Memory)
	directive(&b, "time", FormatWallTime(s.Resources.WallTime))

	b.WriteString("\nset -euo pipefail\n\n")
	fmt.Fprintf(&b, "echo \"[%s] period=%s season=%s\"\n", s.Name, s.Period.Key(), s.Mode)
	for _, line := range s.Setup {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	b.WriteString(ShellJoin(s.Invocation()))
	b.WriteByte('\n')
	return b.String()
}

func directive(b *strings.Builder, key, value string) {
	fmt.Fprintf(b, "#SBATCH --%s=%s\n", key, value)
}

// ShellJoin quotes each word for POSIX sh and joins them with spaces.
// Words made only of safe characters are left bare for readability.
func ShellJoin(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = shellQuote(w)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("-_./=:,+@%", r):
		default:
			return false
		}
	}
	return true
}
