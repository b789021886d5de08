package engine

import (
	"regexp"
	"strings"

	"github.com/hupe1980/polymesh/core"
	"github.com/hupe1980/polymesh/logging"
)

// Reasoning is the fallback target when no execution engine scores.
const Reasoning = "reasoning"

// scoring weights for language detection rules
const (
	strongWeight  = 4
	weakWeight    = 1
	antiWeight    = -3
	patternWeight = 4
	stickyBonus   = 2
)

// languageRules holds the detection evidence for one language.
type languageRules struct {
	strong   []string
	weak     []string
	anti     []string
	patterns []*regexp.Regexp
}

// detection rule sets, evaluated against the raw source text
var rules = map[string]languageRules{
	"python": {
		strong: []string{"def ", "import ", "elif ", "lambda ", "print(", "None", "self."},
		weak:   []string{":", "#", "True", "False"},
		anti:   []string{"function ", "const ", "=>", "var ", "===", "let "},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^\s*def\s+\w+\s*\(`),
			regexp.MustCompile(`(?m)^\s*from\s+\w+\s+import\s`),
			regexp.MustCompile(`(?m)^\s*for\s+\w+\s+in\s+.+:`),
		},
	},
	"js": {
		strong: []string{"function ", "const ", "=>", "let ", "===", "console.log"},
		weak:   []string{";", "{", "}", "var "},
		anti:   []string{"def ", "elif ", "print(", "None"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^\s*(const|let|var)\s+\w+\s*=`),
			regexp.MustCompile(`\w+\s*=>\s*[{(]?`),
		},
	},
	"native": {
		strong: []string{"$get", "$set", "$call"},
		weak:   []string{"="},
		anti:   []string{"function ", "def ", "import "},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^\s*\$\w+`),
			regexp.MustCompile(`^\s*\w+\s*=\s*[^=]`),
		},
	},
}

// detectionOrder fixes the tie-break: earlier languages win equal scores.
var detectionOrder = []string{"python", "js", "native"}

// DetectorOptions configures a Detector.
type DetectorOptions struct {
	Logger logging.Logger
}

// Detector scores source snippets against per-language rule sets and routes
// each snippet to the highest scoring execution engine. A snippet that
// scores at or below zero everywhere is routed to the reasoning engine.
// Detection is deterministic: equal scores resolve by fixed language order.
type Detector struct {
	logger logging.Logger
}

// NewDetector creates a Detector.
func NewDetector(optFns ...func(o *DetectorOptions)) *Detector {
	opts := DetectorOptions{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Detector{logger: opts.Logger}
}

// Detect names the engine for a source snippet. The context's last execution
// language receives a sticky bonus so mixed conversations do not flap
// between engines on ambiguous snippets.
func (d *Detector) Detect(ctx *core.Context, source string) string {
	best := Reasoning
	bestScore := 0

	for _, lang := range detectionOrder {
		score := scoreLanguage(rules[lang], source)
		if lang == ctx.LastLanguage() && score > 0 {
			score += stickyBonus
		}
		if score > bestScore {
			best = lang
			bestScore = score
		}
	}

	d.logger.Debug("dispatch.detect", "language", best, "score", bestScore)
	return best
}

func scoreLanguage(r languageRules, source string) int {
	score := 0
	for _, marker := range r.strong {
		if strings.Contains(source, marker) {
			score += strongWeight
		}
	}
	for _, marker := range r.weak {
		if strings.Contains(source, marker) {
			score += weakWeight
		}
	}
	for _, marker := range r.anti {
		if strings.Contains(source, marker) {
			score += antiWeight
		}
	}
	for _, re := range r.patterns {
		if re.MatchString(source) {
			score += patternWeight
		}
	}
	return score
}
