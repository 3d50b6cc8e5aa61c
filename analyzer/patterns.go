package analyzer

import (
	"regexp"

	"github.com/playpenhq/playpen/types"
)

// pattern is one heuristic matcher against user source text. Matching is
// line-oriented so findings can carry a location.
type pattern struct {
	id       string
	severity types.Severity
	re       *regexp.Regexp
	message  string
}

// patterns is the ordered triage set. High severity means the code reaches
// for a capability that would let it escape its sandboxed role; the
// container boundary is the real backstop, this is a first line of defense.
var patterns = []pattern{
	{
		id:       "fs-access",
		severity: types.SeverityHigh,
		re:       regexp.MustCompile(`require\s*\(\s*['"](?:node:)?fs(?:/promises)?['"]\s*\)`),
		message:  "raw filesystem access is not available to game modules",
	},
	{
		id:       "child-process",
		severity: types.SeverityHigh,
		re:       regexp.MustCompile(`require\s*\(\s*['"](?:node:)?child_process['"]\s*\)`),
		message:  "spawning processes is not available to game modules",
	},
	{
		id:       "dynamic-eval",
		severity: types.SeverityHigh,
		re:       regexp.MustCompile(`\beval\s*\(`),
		message:  "dynamic code evaluation of a string is forbidden",
	},
	{
		id:       "dynamic-function",
		severity: types.SeverityHigh,
		re:       regexp.MustCompile(`\bnew\s+Function\s*\(`),
		message:  "dynamic code evaluation via the Function constructor is forbidden",
	},
	{
		id:       "process-exit",
		severity: types.SeverityHigh,
		re:       regexp.MustCompile(`\bprocess\s*\.\s*(exit|kill|abort)\s*\(`),
		message:  "terminating the host process is forbidden",
	},
	{
		id:       "process-global",
		severity: types.SeverityMedium,
		re:       regexp.MustCompile(`\bprocess\s*\.\s*(?:env|argv|cwd|platform)\b`),
		message:  "reading the process global; prefer the room context passed to init",
	},
	{
		id:       "raw-http",
		severity: types.SeverityMedium,
		re:       regexp.MustCompile(`require\s*\(\s*['"](?:node:)?https?['"]\s*\)|\bXMLHttpRequest\b`),
		message:  "low-level HTTP primitives; prefer the provided client",
	},
	{
		id:       "var-decl",
		severity: types.SeverityLow,
		re:       regexp.MustCompile(`^\s*var\s+\w`),
		message:  "prefer let/const over var",
	},
	{
		id:       "use-strict",
		severity: types.SeverityLow,
		re:       nil, // whole-text check, see Analyze
		message:  "module does not declare 'use strict'",
	},
}
