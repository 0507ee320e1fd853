package ssb

import (
	"fmt"
	"strconv"
	"strings"
)

// Quarter is one calendar quarter. The zero value is not a valid quarter.
type Quarter struct {
	Year int
	Q    int
}

// ParseQuarter accepts both the API spelling 1990K2 and the output spelling
// 1990Q2.
func ParseQuarter(s string) (Quarter, error) {
	sep := strings.IndexAny(s, "KQ")
	if sep < 0 {
		return Quarter{}, fmt.Errorf("not a quarter: %q", s)
	}
	year, err := strconv.Atoi(s[:sep])
	if err != nil {
		return Quarter{}, fmt.Errorf("not a quarter: %q", s)
	}
	q, err := strconv.Atoi(s[sep+1:])
	if err != nil || q < 1 || q > 4 {
		return Quarter{}, fmt.Errorf("not a quarter: %q", s)
	}
	return Quarter{Year: year, Q: q}, nil
}

func (q Quarter) String() string {
	return fmt.Sprintf("%dQ%d", q.Year, q.Q)
}

// Index counts quarters from year zero, so differences and ordering are
// plain integer arithmetic.
func (q Quarter) Index() int {
	return q.Year*4 + q.Q - 1
}

func QuarterFromIndex(i int) Quarter {
	return Quarter{Year: i / 4, Q: i%4 + 1}
}

func (q Quarter) Before(o Quarter) bool {
	return q.Index() < o.Index()
}
