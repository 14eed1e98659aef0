package policy

import (
	"fmt"
	"path"
	"strings"
)

// AnyMethod in a rule matches every HTTP method.
const AnyMethod = "*"

// Rule binds an exact path and method to a policy.
type Rule struct {
	Path   string `yaml:"path"`
	Method string `yaml:"method"`
	Policy Policy `yaml:"policy"`
}

// Options tune how a Table resolves requests.
type Options struct {
	// Default applies to requests no rule matches. The zero value is Public,
	// i.e. unlisted routes are open.
	Default Policy
	// FoldPathCase compares paths case-insensitively, for backends whose
	// routing ignores case.
	FoldPathCase bool
}

// Table is an ordered list of rules. It is immutable once built and safe for
// concurrent lookups.
type Table struct {
	rules        []Rule
	defaultP     Policy
	foldPathCase bool
}

// NewTable validates rules and builds a table. Two rules that could match
// the same (path, method) pair are rejected.
func NewTable(rules []Rule, opts Options) (*Table, error) {
	def := opts.Default
	if def == "" {
		def = Public
	}
	if !def.IsValid() {
		return nil, fmt.Errorf("invalid default policy %q", def)
	}

	t := &Table{defaultP: def, foldPathCase: opts.FoldPathCase}
	methodsByPath := map[string]map[string]bool{}
	for i, r := range rules {
		r.Path = strings.TrimSpace(r.Path)
		r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
		if r.Method == "" {
			r.Method = AnyMethod
		}
		if !strings.HasPrefix(r.Path, "/") {
			return nil, fmt.Errorf("rule %d: path %q must start with /", i, r.Path)
		}
		// Requests are matched after path.Clean, so rules are too.
		r.Path = path.Clean(r.Path)
		if !r.Policy.IsValid() {
			return nil, fmt.Errorf("rule %d (%s %s): invalid policy %q", i, r.Method, r.Path, r.Policy)
		}

		key := r.Path
		if opts.FoldPathCase {
			key = strings.ToLower(key)
		}
		seen := methodsByPath[key]
		if seen == nil {
			seen = map[string]bool{}
			methodsByPath[key] = seen
		}
		if seen[r.Method] || (r.Method == AnyMethod && len(seen) > 0) || seen[AnyMethod] {
			return nil, fmt.Errorf("rule %d: %s %s overlaps an earlier rule", i, r.Method, r.Path)
		}
		seen[r.Method] = true
		t.rules = append(t.rules, r)
	}
	return t, nil
}

// Lookup returns the policy of the first rule matching path and method.
func (t *Table) Lookup(path, method string) (Policy, bool) {
	if t == nil {
		return "", false
	}
	for _, r := range t.rules {
		if r.Method != AnyMethod && !strings.EqualFold(r.Method, method) {
			continue
		}
		if r.Path == path || (t.foldPathCase && strings.EqualFold(r.Path, path)) {
			return r.Policy, true
		}
	}
	return "", false
}

// PolicyFor returns the policy for a request, falling back to the default.
func (t *Table) PolicyFor(path, method string) Policy {
	if p, ok := t.Lookup(path, method); ok {
		return p
	}
	return t.Default()
}

// Default returns the policy applied to unmatched requests.
func (t *Table) Default() Policy {
	if t == nil {
		return Public
	}
	return t.defaultP
}

// Rules returns a copy of the rules in match order.
func (t *Table) Rules() []Rule {
	if t == nil {
		return nil
	}
	return append([]Rule(nil), t.rules...)
}
