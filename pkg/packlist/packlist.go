// Package packlist parses the pack listings XDCC bots serve as pack #1.
package packlist

import (
	"bufio"
	"io"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// Entry is one offered pack:
//
//	#42  7x [ 350M] [Group] Title - 01 [720p].mkv
type Entry struct {
	Pack      string
	Downloads int
	Size      string
	Name      string
}

var lineRe = regexp.MustCompile(`(\S+)[ ]+(\d+)x \[([^\[\]]+)\] ([^"\n]+)`)

// ErrNoEntry is returned for lines that are not pack entries. Packlists
// carry headers and ads between entries, so callers typically skip these.
var ErrNoEntry = errors.New("packlist: not a pack entry")

// ParseLine parses a single packlist line.
func ParseLine(line string) (*Entry, error) {
	groups := lineRe.FindStringSubmatch(line)
	if groups == nil {
		return nil, ErrNoEntry
	}
	dls, err := strconv.Atoi(groups[2])
	if err != nil {
		return nil, ErrNoEntry
	}
	return &Entry{
		Pack:      groups[1],
		Downloads: dls,
		Size:      groups[3],
		Name:      groups[4],
	}, nil
}

// Parse reads a whole packlist, returning its entries in order and
// skipping non-entry lines.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		e, err := ParseLine(sc.Text())
		if err != nil {
			continue
		}
		entries = append(entries, *e)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "packlist: read")
	}
	return entries, nil
}
