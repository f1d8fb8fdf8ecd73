package clusterexec

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

// Binaries a command line may name.
var allowedBinaries = map[string]bool{"oc": true, "kubectl": true}

// interactiveVerbs need a terminal or keep a connection open.
var interactiveVerbs = map[string]bool{
	"edit":         true,
	"port-forward": true,
	"attach":       true,
	"proxy":        true,
}

// mutatingVerbs are refused when non_destructive is set.
var mutatingVerbs = map[string]bool{
	"annotate":  true,
	"apply":     true,
	"autoscale": true,
	"create":    true,
	"delete":    true,
	"drain":     true,
	"edit":      true,
	"exec":      true,
	"label":     true,
	"patch":     true,
	"replace":   true,
	"rollout":   true,
	"scale":     true,
	"set":       true,
	"taint":     true,
}

// adminMutatingVerbs are the oc adm subcommands refused when non_destructive is set.
var adminMutatingVerbs = map[string]bool{
	"cordon":   true,
	"uncordon": true,
	"drain":    true,
	"taint":    true,
	"prune":    true,
	"policy":   true,
}

// shellOperators are rejected because commands do not run through a shell.
var shellOperators = map[string]bool{
	"|": true, "||": true, "&": true, "&&": true, ";": true, ">": true, ">>": true, "<": true,
}

// splitCommand splits a command line into words, honoring single quotes,
// double quotes and backslash escapes.
func splitCommand(line string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t' || r == '\n':
			if inWord {
				if shellOperators[cur.String()] {
					return nil, fmt.Errorf("shell operator %q is not supported", cur.String())
				}
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		return nil, fmt.Errorf("trailing backslash")
	}
	if inWord {
		if shellOperators[cur.String()] {
			return nil, fmt.Errorf("shell operator %q is not supported", cur.String())
		}
		words = append(words, cur.String())
	}
	return words, nil
}

// valueFlags are global flags whose value follows as the next word.
var valueFlags = map[string]bool{
	"-n": true, "--namespace": true,
	"-s": true, "--server": true,
	"-l": true, "--selector": true,
	"-o": true, "--output": true,
	"-v": true, "--v": true,
	"--context":               true,
	"--cluster":               true,
	"--user":                  true,
	"--kubeconfig":            true,
	"--config":                true,
	"--token":                 true,
	"--username":              true,
	"--password":              true,
	"--as":                    true,
	"--as-group":              true,
	"--as-uid":                true,
	"--certificate-authority": true,
	"--client-certificate":    true,
	"--client-key":            true,
	"--tls-server-name":       true,
	"--request-timeout":       true,
	"--cache-dir":             true,
	"--log-dir":               true,
	"--log-file":              true,
	"--vmodule":               true,
	"--profile":               true,
	"--profile-output":        true,
}

// switchFlags are global flags that take no separate value.
var switchFlags = map[string]bool{
	"--insecure-skip-tls-verify": true,
	"--match-server-version":     true,
	"--warnings-as-errors":       true,
	"--disable-compression":      true,
	"--skip-headers":             true,
	"--logtostderr":              true,
	"-A":                         true,
	"--all-namespaces":           true,
}

// subcommand returns the first positional argument and the index following
// it. Values of known global flags are skipped; an unknown flag ahead of the
// subcommand is an error since its value could hide the subcommand.
func subcommand(args []string, from int) (string, int, error) {
	for i := from; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			return "", len(args), nil
		case !strings.HasPrefix(a, "-") || a == "-":
			return a, i + 1, nil
		case strings.Contains(a, "="):
		case valueFlags[a]:
			i++
		case switchFlags[a]:
		case len(a) > 2 && !strings.HasPrefix(a, "--") && valueFlags[a[:2]]:
			// -nprod
		default:
			return "", 0, fmt.Errorf("flag %s before the subcommand is not recognized; place it after the subcommand", a)
		}
	}
	return "", len(args), nil
}

// verbs returns the subcommand and, for oc adm, the administrative
// subcommand that follows it.
func verbs(args []string) (string, string, error) {
	v, next, err := subcommand(args, 0)
	if err != nil || v != "adm" {
		return v, "", err
	}
	sub, _, err := subcommand(args, next)
	return v, sub, err
}

// interactiveExec reports whether an exec asks for stdin or a TTY.
func interactiveExec(args []string) bool {
	for _, a := range args {
		if a == "--" {
			return false
		}
		switch a {
		case "-i", "-t", "-it", "-ti", "--stdin", "--tty", "--stdin=true", "--tty=true":
			return true
		}
	}
	return false
}

// parseCommand turns a command line into the binary and its arguments,
// refusing interactive commands and, when nonDestructive is set, mutating ones.
func parseCommand(line, defaultBinary string, nonDestructive bool) (string, []string, error) {
	invalid := func(reason string) error {
		return &dispatch.InvalidParameterError{Operation: OpRun, Param: "command", Reason: reason}
	}

	words, err := splitCommand(line)
	if err != nil {
		return "", nil, invalid(err.Error())
	}
	if len(words) == 0 {
		return "", nil, invalid("is empty")
	}

	binary, args := defaultBinary, words
	if allowedBinaries[words[0]] {
		binary, args = words[0], words[1:]
	}

	v, sub, err := verbs(args)
	if err != nil {
		return "", nil, invalid(err.Error())
	}
	if v == "" {
		return "", nil, invalid("has no subcommand")
	}
	title := cases.Title(language.English).String(v)

	if interactiveVerbs[v] || (v == "exec" && interactiveExec(args)) {
		return "", nil, invalid(fmt.Sprintf(
			"%s is interactive and not supported; use non-interactive alternatives such as get -o yaml, patch or apply", title))
	}
	if nonDestructive && (mutatingVerbs[v] || adminMutatingVerbs[sub]) {
		if sub != "" {
			title = title + " " + sub
		}
		return "", nil, invalid(fmt.Sprintf("%s commands are not allowed in non-destructive mode", title))
	}
	return binary, args, nil
}
