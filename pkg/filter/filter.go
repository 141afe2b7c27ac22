// Package filter loads the pack-name filters the poller matches against.
package filter

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Predicate matches candidate pack names. A predicate holds one or more
// patterns which must all match.
type Predicate struct {
	patterns []*regexp.Regexp
}

// New compiles the given expressions into a single predicate.
func New(exprs ...string) (*Predicate, error) {
	if len(exprs) == 0 {
		return nil, errors.New("filter: empty predicate")
	}
	p := &Predicate{}
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, errors.Wrapf(err, "filter: compile %q", expr)
		}
		p.patterns = append(p.patterns, re)
	}
	return p, nil
}

// Match reports whether every pattern matches name.
func (p *Predicate) Match(name string) bool {
	for _, re := range p.patterns {
		if !re.MatchString(name) {
			return false
		}
	}
	return true
}

func (p *Predicate) String() string {
	exprs := make([]string, len(p.patterns))
	for i, re := range p.patterns {
		exprs[i] = re.String()
	}
	return strings.Join(exprs, " && ")
}

// Load reads a filter file: one regular expression per line, each its own
// predicate. Blank lines and lines starting with # are skipped.
func Load(r io.Reader) ([]*Predicate, error) {
	var preds []*Predicate
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := New(line)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "filter: read")
	}
	return preds, nil
}

// LoadFile is Load over the named file.
func LoadFile(path string) ([]*Predicate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "filter: open")
	}
	defer f.Close()
	return Load(f)
}
