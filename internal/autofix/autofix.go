// Package autofix rewrites known generation defects in candidate scanner
// source. Every rule is a pure text transform with no validator awareness,
// and every rule is idempotent: reapplying the fixer to its own output
// changes nothing.
package autofix

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Rule names reported in FixResult.Applied, in application order.
const (
	RuleGroupedRollingMean    = "grouped-rolling-mean"
	RuleCanonicalDateFields   = "canonical-date-fields"
	RuleMissingSelfAssignment = "missing-self-assignment"
	RuleStripFenceMarkers     = "strip-fence-markers"
)

// FixResult carries the rewritten source plus the names of the rules that
// actually changed it.
type FixResult struct {
	Source  string   `json:"source"`
	Applied []string `json:"applied_rules"`
	Changed bool     `json:"changed"`
}

// rule is one named pattern->replacement transform. apply returns the
// rewritten text and whether anything changed.
type rule struct {
	name  string
	apply func(string) (string, bool)
}

// Fixer applies a fixed, ordered rule list to candidate source.
type Fixer struct {
	rules []rule
}

// New returns a fixer with the standard rule set.
func New() *Fixer {
	return &Fixer{
		rules: []rule{
			{RuleGroupedRollingMean, groupRollingMean},
			{RuleCanonicalDateFields, canonicalDateFields},
			{RuleMissingSelfAssignment, injectSelfAssignments},
			{RuleStripFenceMarkers, stripFenceMarkers},
		},
	}
}

// Fix runs every rule once, in order. Rules that fired are listed by name.
func (f *Fixer) Fix(source string) FixResult {
	out := source
	var applied []string

	for _, r := range f.rules {
		next, changed := r.apply(out)
		if changed {
			applied = append(applied, r.name)
			out = next
		}
	}

	if len(applied) > 0 {
		log.Debug().Strs("rules", applied).Msg("autofix rewrote candidate")
	}
	return FixResult{Source: out, Applied: applied, Changed: len(applied) > 0}
}

// rollingMeanRe matches the whole-frame windowed-average idiom
// frame['col'].rolling(window).mean(), which averages across every ticker at
// once instead of within each ticker's own series.
var rollingMeanRe = regexp.MustCompile(`(\w+)\[['"]([A-Za-z_]\w*)['"]\]\.rolling\((\d+)\)\.mean\(\)`)

const groupedTransformReplacement = "${1}.groupby('ticker')['${2}'].transform(lambda s: s.rolling(${3}).mean())"

func groupRollingMean(source string) (string, bool) {
	lines := strings.Split(source, "\n")
	changed := false

	for i, line := range lines {
		if !strings.Contains(line, ".rolling(") {
			continue
		}
		// lines that already go through groupby/transform are correct
		if strings.Contains(line, ".groupby(") || strings.Contains(line, ".transform(") {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		fixed := rollingMeanRe.ReplaceAllString(line, groupedTransformReplacement)
		if fixed != line {
			lines[i] = fixed
			changed = true
		}
	}

	if !changed {
		return source, false
	}
	return strings.Join(lines, "\n"), true
}

// dateFieldSynonyms maps every known-wrong date-range identifier to its
// canonical name. Renames are whole-word across the source so constructor
// parameters, self.<name> references, and bare local uses stay coherent.
var dateFieldSynonyms = []struct {
	re        *regexp.Regexp
	canonical string
}{
	{regexp.MustCompile(`\bstartDate\b`), "start_date"},
	{regexp.MustCompile(`\bstart_dt\b`), "start_date"},
	{regexp.MustCompile(`\bbegin_date\b`), "start_date"},
	{regexp.MustCompile(`\bfrom_date\b`), "start_date"},
	{regexp.MustCompile(`\bendDate\b`), "end_date"},
	{regexp.MustCompile(`\bend_dt\b`), "end_date"},
	{regexp.MustCompile(`\bfinish_date\b`), "end_date"},
	{regexp.MustCompile(`\bto_date\b`), "end_date"},
	{regexp.MustCompile(`\buntil_date\b`), "end_date"},
}

func canonicalDateFields(source string) (string, bool) {
	out := source
	changed := false

	for _, syn := range dateFieldSynonyms {
		fixed := syn.re.ReplaceAllString(out, syn.canonical)
		if fixed != out {
			out = fixed
			changed = true
		}
	}
	return out, changed
}

// initDefRe captures the constructor signature: group 1 is the def line's
// indentation, group 2 the raw parameter list. The match runs through the
// newline after the colon so loc[1] is the start of the body.
var initDefRe = regexp.MustCompile(`(?m)^([ \t]*)def\s+__init__\s*\(([^)]*)\)\s*:[ \t]*\r?\n`)

func injectSelfAssignments(source string) (string, bool) {
	loc := initDefRe.FindStringSubmatchIndex(source)
	if loc == nil {
		return source, false
	}

	defIndent := source[loc[2]:loc[3]]
	params := parseParams(source[loc[4]:loc[5]])
	bodyStart := loc[1]
	body, bodyIndent := constructorBody(source, bodyStart, defIndent)

	var missing []string
	for _, p := range params {
		selfRef := regexp.MustCompile(`\bself\.` + regexp.QuoteMeta(p) + `\b`)
		assignRe := regexp.MustCompile(`self\.` + regexp.QuoteMeta(p) + `\s*=[^=]`)
		if selfRef.MatchString(source) && !assignRe.MatchString(body) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return source, false
	}

	var injected strings.Builder
	for _, p := range missing {
		fmt.Fprintf(&injected, "%sself.%s = %s\n", bodyIndent, p, p)
	}
	return source[:bodyStart] + injected.String() + source[bodyStart:], true
}

// constructorBody returns the text of the __init__ body (lines indented
// deeper than the def line) and the indentation of its first statement.
func constructorBody(source string, bodyStart int, defIndent string) (string, string) {
	defWidth := indentWidth(defIndent)
	bodyIndent := defIndent + "    "
	bodyEnd := len(source)

	pos := bodyStart
	firstSeen := false
	for pos < len(source) {
		lineEnd := strings.IndexByte(source[pos:], '\n')
		if lineEnd < 0 {
			lineEnd = len(source) - pos
		}
		line := source[pos : pos+lineEnd]
		if strings.TrimSpace(line) != "" {
			leading := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
			if indentWidth(leading) <= defWidth {
				bodyEnd = pos
				break
			}
			if !firstSeen {
				bodyIndent = leading
				firstSeen = true
			}
		}
		pos += lineEnd + 1
	}
	return source[bodyStart:bodyEnd], bodyIndent
}

// indentWidth counts leading whitespace, a tab weighing four columns.
func indentWidth(indent string) int {
	width := 0
	for _, r := range indent {
		if r == '\t' {
			width += 4
		} else {
			width++
		}
	}
	return width
}

// parseParams extracts plain parameter names from a raw signature, dropping
// self, defaults, annotations, and starred parameters.
func parseParams(raw string) []string {
	var params []string
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if idx := strings.IndexAny(name, "=:"); idx >= 0 {
			name = strings.TrimSpace(name[:idx])
		}
		if name == "" || name == "self" || strings.HasPrefix(name, "*") {
			continue
		}
		params = append(params, name)
	}
	return params
}

func stripFenceMarkers(source string) (string, bool) {
	if !strings.Contains(source, "```") {
		return source, false
	}

	lines := strings.Split(source, "\n")
	kept := make([]string, 0, len(lines))
	changed := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			changed = true
			continue
		}
		kept = append(kept, line)
	}

	if !changed {
		return source, false
	}
	return strings.Join(kept, "\n"), true
}
