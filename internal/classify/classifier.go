// Package classify buckets finished-job output into failure kinds.
//
// Classification is an ordered table of literal/regex patterns: the first
// rule whose pattern matches wins, so identical output always yields the
// same verdict. Output that looks erroneous but matches no rule is
// classified unknown and not recoverable.
package classify

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"
)

type FailureKind string

const (
	KindConvergence FailureKind = "convergence_failure"
	KindMemory      FailureKind = "memory_error"
	KindTimeLimit   FailureKind = "time_limit"
	KindKpointGrid  FailureKind = "kpoint_grid_error"
	KindDiskIO      FailureKind = "disk_io_error"
	KindSystemCrash FailureKind = "system_crash"
	KindUnknown     FailureKind = "unknown"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Classification is the verdict for one finished job's output.
type Classification struct {
	Kind        FailureKind `json:"kind"`
	Severity    Severity    `json:"severity"`
	Recoverable bool        `json:"recoverable"`
	Hints       []string    `json:"hints,omitempty"`
}

// Rule maps patterns onto a failure kind. Substrings are checked before
// Patterns; either match claims the rule.
type Rule struct {
	Kind        FailureKind `yaml:"kind"`
	Substrings  []string    `yaml:"substrings"`
	Patterns    []string    `yaml:"patterns"`
	Severity    Severity    `yaml:"severity"`
	Recoverable bool        `yaml:"recoverable"`
	Hints       []string    `yaml:"hints"`

	compiled []*regexp.Regexp
}

// defaultRules is the built-in ordered table. Order is significant: the
// first matching rule wins, so more specific patterns come first.
var defaultRules = []Rule{
	{
		Kind:        KindMemory,
		Substrings:  []string{"OUT OF MEMORY", "INSUFFICIENT MEMORY", "oom-kill"},
		Patterns:    []string{`(?i)memory allocation (of .* )?failed`},
		Severity:    SeverityError,
		Recoverable: true,
		Hints:       []string{"increase memory request", "reduce k-point density"},
	},
	{
		Kind:        KindTimeLimit,
		Substrings:  []string{"DUE TO TIME LIMIT", "WALLTIME EXCEEDED"},
		Patterns:    []string{`(?i)job .* cancelled at .* due to time limit`},
		Severity:    SeverityError,
		Recoverable: true,
		Hints:       []string{"extend walltime request", "restart from last checkpoint"},
	},
	{
		Kind:        KindConvergence,
		Substrings:  []string{"SCF NOT CONVERGED", "TOO MANY ITERATIONS", "CONVERGENCE NOT REACHED"},
		Severity:    SeverityWarning,
		Recoverable: true,
		Hints:       []string{"relax convergence tolerance", "raise iteration cap"},
	},
	{
		Kind:        KindKpointGrid,
		Substrings:  []string{"K-POINT GRID ERROR", "SHRINK FACTOR INCOMPATIBLE"},
		Patterns:    []string{`(?i)k-?point mesh .* incommensurate`},
		Severity:    SeverityWarning,
		Recoverable: true,
		Hints:       []string{"coarsen the k-point grid"},
	},
	{
		Kind:        KindDiskIO,
		Substrings:  []string{"No space left on device", "I/O ERROR", "READ/WRITE FAILURE"},
		Severity:    SeverityError,
		Recoverable: true,
		Hints:       []string{"retry on a node with free scratch space"},
	},
	{
		Kind:        KindSystemCrash,
		Substrings:  []string{"segmentation fault", "Segmentation fault", "SIGSEGV", "FORTRAN STOP", "glibc detected"},
		Severity:    SeverityCritical,
		Recoverable: false,
		Hints:       []string{"inspect the engine build and node health"},
	},
}

// unknownClassification is the fail-closed verdict for unmatched output.
var unknownClassification = Classification{
	Kind:        KindUnknown,
	Severity:    SeverityError,
	Recoverable: false,
}

// Classifier evaluates the ordered rule table.
type Classifier struct {
	rules []Rule
}

// New returns a classifier with the built-in table.
func New() *Classifier {
	c := &Classifier{rules: make([]Rule, len(defaultRules))}
	copy(c.rules, defaultRules)
	c.compile()
	return c
}

// NewWithRules prepends extra rules to the built-in table so site-specific
// kinds take precedence without recompilation.
func NewWithRules(extra []Rule) (*Classifier, error) {
	c := &Classifier{}
	c.rules = append(c.rules, extra...)
	c.rules = append(c.rules, defaultRules...)
	if err := c.compileStrict(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadRules reads extra rules from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	return rules, nil
}

func (c *Classifier) compile() {
	for i := range c.rules {
		for _, p := range c.rules[i].Patterns {
			c.rules[i].compiled = append(c.rules[i].compiled, regexp.MustCompile(p))
		}
	}
}

func (c *Classifier) compileStrict() error {
	for i := range c.rules {
		for _, p := range c.rules[i].Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return fmt.Errorf("invalid pattern %q for kind %s: %w", p, c.rules[i].Kind, err)
			}
			c.rules[i].compiled = append(c.rules[i].compiled, re)
		}
	}
	return nil
}

// Classify buckets output text into a failure kind. First match wins.
func (c *Classifier) Classify(output string) Classification {
	for i := range c.rules {
		r := &c.rules[i]
		for _, s := range r.Substrings {
			if strings.Contains(output, s) {
				return Classification{Kind: r.Kind, Severity: r.Severity, Recoverable: r.Recoverable, Hints: r.Hints}
			}
		}
		for _, re := range r.compiled {
			if re.MatchString(output) {
				return Classification{Kind: r.Kind, Severity: r.Severity, Recoverable: r.Recoverable, Hints: r.Hints}
			}
		}
	}
	return unknownClassification
}

// ClassifyFile scans an output artifact line by line. Scanning by line
// keeps memory flat for multi-gigabyte engine reports.
func (c *Classifier) ClassifyFile(path string) (Classification, error) {
	f, err := os.Open(path)
	if err != nil {
		return unknownClassification, fmt.Errorf("failed to open output: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if cls := c.Classify(scanner.Text()); cls.Kind != KindUnknown {
			return cls, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return unknownClassification, fmt.Errorf("failed to scan output: %w", err)
	}
	return unknownClassification, nil
}
