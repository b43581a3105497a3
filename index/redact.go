package index

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// safeVars are environment variables that are non-sensitive and useful as model context.
var safeVars = map[string]bool{
	"HOME": true, "USER": true, "PWD": true, "OLDPWD": true,
	"SHELL": true, "PATH": true, "LANG": true, "TERM": true,
	"EDITOR": true, "PAGER": true, "HOSTNAME": true, "LOGNAME": true,
	"TMPDIR": true, "XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true,
	"XDG_RUNTIME_DIR": true, "GOPATH": true, "GOROOT": true,
	"NODE_ENV": true, "CI": true, "SHLVL": true,
}

// specialParams are shell special parameters that should not be redacted.
var specialParams = map[string]bool{
	"?": true, "!": true, "#": true, "@": true, "*": true,
	"-": true, "$": true, "_": true,
	"0": true, "1": true, "2": true, "3": true, "4": true,
	"5": true, "6": true, "7": true, "8": true, "9": true,
}

var shellExts = map[string]bool{".sh": true, ".bash": true, ".zsh": true, ".ksh": true}

var shellNames = map[string]bool{
	".bashrc": true, ".zshrc": true, ".profile": true, ".bash_profile": true,
	".envrc": true,
}

// IsShellFile reports whether fileName looks like a shell script.
func IsShellFile(fileName string) bool {
	base := filepath.Base(fileName)
	return shellExts[strings.ToLower(filepath.Ext(base))] || shellNames[base]
}

// RedactCode removes likely secrets from code before it leaves the machine.
// Shell scripts additionally get variable expansions and assignments of
// non-allowlisted variables redacted.
func RedactCode(fileName, code string) string {
	if IsShellFile(fileName) {
		code = RedactShell(code)
	}
	return RedactSecrets(code)
}

// RedactShell replaces sensitive variable references and assignment values
// in a shell script. Safe variables (PATH, HOME, etc.) and special shell
// parameters ($?, $!, etc.) are preserved.
func RedactShell(script string) string {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(true))
	prog, err := parser.Parse(strings.NewReader(script), "")
	if err != nil {
		return regexRedactShell(script)
	}

	syntax.Walk(prog, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.ParamExp:
			if n.Param != nil && !safeVars[n.Param.Value] && !specialParams[n.Param.Value] {
				n.Param.Value = "REDACTED"
			}
		case *syntax.Assign:
			if n.Name != nil && !safeVars[n.Name.Value] && n.Value != nil {
				n.Value.Parts = []syntax.WordPart{&syntax.Lit{Value: "***"}}
			}
		}
		return true
	})

	var buf bytes.Buffer
	printer := syntax.NewPrinter(syntax.Indent(0))
	if err := printer.Print(&buf, prog); err != nil {
		return regexRedactShell(script)
	}
	return strings.TrimRight(buf.String(), "\n")
}

var (
	reBraceVar  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	reSimpleVar = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	reAssign    = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)=(\S+)`)
)

// regexRedactShell is a fallback for scripts that fail to parse, which is
// common for chunks cut out of a larger file.
func regexRedactShell(script string) string {
	script = reBraceVar.ReplaceAllStringFunc(script, func(m string) string {
		name := reBraceVar.FindStringSubmatch(m)[1]
		if safeVars[name] || specialParams[name] {
			return m
		}
		return "${REDACTED}"
	})

	script = reSimpleVar.ReplaceAllStringFunc(script, func(m string) string {
		name := reSimpleVar.FindStringSubmatch(m)[1]
		if name == "REDACTED" || safeVars[name] || specialParams[name] {
			return m
		}
		return "$REDACTED"
	})

	script = reAssign.ReplaceAllStringFunc(script, func(m string) string {
		parts := reAssign.FindStringSubmatch(m)
		if safeVars[parts[1]] {
			return m
		}
		return parts[1] + "=***"
	})

	return script
}

var (
	// reSecretAssign matches `name = "value"` and `name: value` where name
	// suggests a credential.
	reSecretAssign = regexp.MustCompile(`(?i)\b([A-Za-z0-9_.-]*(?:api[_-]?key|secret|token|passwd|password|credential|auth)[A-Za-z0-9_.-]*)(["']?\s*[:=]\s*)(["'` + "`" + `]?)([^"'` + "`" + `\s,;]{4,})`)

	// reKnownToken matches token formats that are secret wherever they appear.
	reKnownToken = regexp.MustCompile(`\b(?:sk-[A-Za-z0-9_-]{16,}|sk-or-v1-[A-Za-z0-9]{16,}|gh[pousr]_[A-Za-z0-9]{20,}|AKIA[0-9A-Z]{16}|xox[baprs]-[A-Za-z0-9-]{10,})\b`)

	reBearer = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/-]{8,}=*`)
)

// RedactSecrets masks credential-looking values in any source text.
func RedactSecrets(text string) string {
	text = reKnownToken.ReplaceAllString(text, "***")
	text = reBearer.ReplaceAllString(text, "${1}***")
	text = reSecretAssign.ReplaceAllString(text, "${1}${2}${3}***")
	return text
}
