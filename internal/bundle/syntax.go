package bundle

import (
	"fmt"
	"regexp"
	"strings"
)

const specPattern = `(["'][^"'\n]+["'])`

var (
	exportFrom    = regexp.MustCompile(`(?m)^([ \t]*)export\s*\{([^}]*)\}\s*from\s+` + specPattern + `[ \t]*;?`)
	exportStar    = regexp.MustCompile(`(?m)^([ \t]*)export\s+\*\s+from\s+` + specPattern + `[ \t]*;?`)
	exportList    = regexp.MustCompile(`(?m)^([ \t]*)export\s*\{([^}]*)\}[ \t]*;?`)
	exportDefault = regexp.MustCompile(`(?m)^([ \t]*)export\s+default\s+`)
	exportDecl    = regexp.MustCompile(`(?m)^([ \t]*)export\s+(const|let|var|function\*?|async\s+function|class)\s+([\w$]+)`)
	importBare    = regexp.MustCompile(`(?m)^([ \t]*)import\s+` + specPattern + `[ \t]*;?`)
	importStar    = regexp.MustCompile(`(?m)^([ \t]*)import\s+\*\s+as\s+([\w$]+)\s+from\s+` + specPattern + `[ \t]*;?`)
	importMixed   = regexp.MustCompile(`(?m)^([ \t]*)import\s+([\w$]+)\s*,\s*\{([^}]*)\}\s*from\s+` + specPattern + `[ \t]*;?`)
	importNamed   = regexp.MustCompile(`(?m)^([ \t]*)import\s*\{([^}]*)\}\s*from\s+` + specPattern + `[ \t]*;?`)
	importDefault = regexp.MustCompile(`(?m)^([ \t]*)import\s+([\w$]+)\s+from\s+` + specPattern + `[ \t]*;?`)
	importDynamic = regexp.MustCompile(`\bimport\s*\(\s*` + specPattern + `\s*\)`)
)

// RewriteModuleSyntax turns top-level import and export declarations into
// calls against the bundle runtime's require, exports and __weft_default.
// CommonJS sources pass through unchanged.
func RewriteModuleSyntax(src []byte) []byte {
	s := string(src)
	if !strings.Contains(s, "import") && !strings.Contains(s, "export") {
		return src
	}

	s = replace(exportFrom, s, func(m []string) string {
		var b strings.Builder
		b.WriteString(m[1] + "(function (m) {")
		for _, bd := range bindings(m[2]) {
			fmt.Fprintf(&b, " exports.%s = m.%s;", bd.local, bd.imported)
		}
		b.WriteString(" })(require(" + m[3] + "));")
		return b.String()
	})
	s = exportStar.ReplaceAllString(s, "${1}Object.assign(exports, require(${2}));")
	s = replace(exportList, s, func(m []string) string {
		var b strings.Builder
		b.WriteString(m[1])
		for i, bd := range bindings(m[2]) {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "exports.%s = %s;", bd.local, bd.imported)
		}
		return b.String()
	})
	s = exportDefault.ReplaceAllString(s, "${1}exports.default = ")

	var declared []string
	s = replace(exportDecl, s, func(m []string) string {
		declared = append(declared, m[3])
		return m[1] + m[2] + " " + m[3]
	})

	s = importBare.ReplaceAllString(s, "${1}require(${2});")
	s = importStar.ReplaceAllString(s, "${1}var ${2} = require(${3});")
	s = replace(importMixed, s, func(m []string) string {
		tmp := "__weft_m_" + m[2]
		return fmt.Sprintf("%svar %s = require(%s), %s = __weft_default(%s), %s = %s;",
			m[1], tmp, m[4], m[2], tmp, destructure(m[3]), tmp)
	})
	s = replace(importNamed, s, func(m []string) string {
		return fmt.Sprintf("%svar %s = require(%s);", m[1], destructure(m[2]), m[3])
	})
	s = importDefault.ReplaceAllString(s, "${1}var ${2} = __weft_default(require(${3}));")
	s = importDynamic.ReplaceAllString(s, "Promise.resolve().then(function () { return require(${1}); })")

	if len(declared) > 0 {
		var b strings.Builder
		b.WriteString(s)
		if !strings.HasSuffix(s, "\n") {
			b.WriteByte('\n')
		}
		for _, name := range declared {
			fmt.Fprintf(&b, "exports.%s = %s;\n", name, name)
		}
		s = b.String()
	}
	return []byte(s)
}

type binding struct {
	imported string
	local    string
}

// bindings parses "a, b as c" into {a a} {b c}.
func bindings(list string) []binding {
	var out []binding
	for _, part := range strings.Split(list, ",") {
		fields := strings.Fields(part)
		switch {
		case len(fields) == 1:
			out = append(out, binding{imported: fields[0], local: fields[0]})
		case len(fields) == 3 && fields[1] == "as":
			out = append(out, binding{imported: fields[0], local: fields[2]})
		}
	}
	return out
}

// destructure renders an import list as an object pattern.
func destructure(list string) string {
	var parts []string
	for _, b := range bindings(list) {
		if b.imported == b.local {
			parts = append(parts, b.local)
		} else {
			parts = append(parts, b.imported+": "+b.local)
		}
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func replace(re *regexp.Regexp, s string, fn func(m []string) string) string {
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return fn(re.FindStringSubmatch(match))
	})
}
