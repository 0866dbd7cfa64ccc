// Package partition derives the ordered partition plan from the configured
// reconciliation scope.
package partition

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/johndauphine/drt/internal/config"
	"github.com/johndauphine/drt/internal/util"
)

// Descriptor identifies one year/month(/week) slice of both tables.
// An empty Week means the whole month. The zero Descriptor means the whole
// table (used by single-record runs, which bypass partitioning).
type Descriptor struct {
	Year  string
	Month string
	Week  string
}

// IsZero reports whether the descriptor carries no partition filter.
func (d Descriptor) IsZero() bool {
	return d.Year == "" && d.Month == "" && d.Week == ""
}

// Label returns a short human-readable form, e.g. "2024-05" or "2024-05-W2".
func (d Descriptor) Label() string {
	if d.IsZero() {
		return "all"
	}
	s := d.Year + "-" + d.Month
	if d.Week != "" {
		s += "-W" + d.Week
	}
	return s
}

// MonthKey returns the year-month grouping key used for the weekly
// dependency chain.
func (d Descriptor) MonthKey() string {
	return d.Year + "-" + d.Month
}

// Plan expands the partitioning scope into a flat ordered list of
// descriptors. Scope entries with a weeks list produce one descriptor per
// week in ascending order; entries without weeks fall back to a single
// month-only descriptor. Ordering across entries follows the configuration.
func Plan(p config.Partitioning) ([]Descriptor, error) {
	var out []Descriptor
	for i, entry := range p.Scope {
		year := entry.Year.String()
		month := util.PadMonth(entry.Month.String())
		if year == "" {
			return nil, &config.ConfigurationError{Msg: fmt.Sprintf("scope[%d]: year is required", i)}
		}
		if len(entry.Weeks) > 0 && month == "" {
			return nil, &config.ConfigurationError{Msg: fmt.Sprintf("scope[%d]: weeks specified without month", i)}
		}

		if len(entry.Weeks) == 0 {
			out = append(out, Descriptor{Year: year, Month: month})
			continue
		}

		weeks := append([]int(nil), entry.Weeks...)
		sort.Ints(weeks)
		for _, w := range weeks {
			out = append(out, Descriptor{
				Year:  year,
				Month: month,
				Week:  strconv.Itoa(w),
			})
		}
	}
	return out, nil
}
