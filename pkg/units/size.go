// Package units formats byte counts for transfer logs and progress lines.
package units

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// ErrNegativeSize is returned when a negative byte count is formatted.
var ErrNegativeSize = errors.New("units: negative size")

var names = [...]string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB", "ZiB", "YiB"}

// Human renders size as an IEC string: one decimal below 10 units,
// rounded to an integer at 10 and above. Human(0) is "0 B".
func Human(size int64) (string, error) {
	if size < 0 {
		return "", ErrNegativeSize
	}
	if size == 0 {
		return "0 B", nil
	}
	i := int(math.Log(float64(size)) / math.Log(1024))
	if i >= len(names) {
		i = len(names) - 1
	}
	s := float64(size) / math.Pow(1024, float64(i))
	if s >= 10 {
		return fmt.Sprintf("%d %s", int64(math.Round(s)), names[i]), nil
	}
	return fmt.Sprintf("%.1f %s", math.Round(s*10)/10, names[i]), nil
}

// MustHuman is Human for sizes already known to be non-negative,
// such as byte counters.
func MustHuman(size int64) string {
	s, err := Human(size)
	if err != nil {
		panic(err)
	}
	return s
}
