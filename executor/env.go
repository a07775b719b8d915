package executor

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/sys/unix"
)

var unsafeEnvValue = regexp.MustCompile(`[; ()]`)

// EnvironmentList renders the lines that reproduce a local environment in a
// remote shell: a cd to cwd, the umask and one export per variable. Values
// with a space, semicolon or parenthesis are not transferred.
func EnvironmentList(cwd string, umask int, environ []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cd %s\n", cwd)
	fmt.Fprintf(&b, "umask %o\n", umask)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		if unsafeEnvValue.MatchString(v) || strings.Contains(v, "command-variables") {
			continue
		}
		fmt.Fprintf(&b, "export %s=\"%s\"\n", k, v)
	}
	return b.String()
}

// CurrentUmask reads the process umask without changing it.
func CurrentUmask() int {
	m := unix.Umask(0)
	unix.Umask(m)
	return m
}

// LocalEnvironment is EnvironmentList for this process.
func LocalEnvironment() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return EnvironmentList(cwd, CurrentUmask(), os.Environ()), nil
}
