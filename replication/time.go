package replication

import (
	"fmt"
	"strings"
	"time"

	"github.com/kasuganosora/binlogstream/mysql"
)

var (
	fracTimeFormat []string
)

// fracTime is a time with a fractional-second precision attached, so it
// renders with exactly the digits the column declared.
type fracTime struct {
	time.Time

	// Dec is the number of fractional-second digits, 0..6.
	Dec int

	timestampStringLocation *time.Location
}

func (t fracTime) String() string {
	tt := t.Time
	if t.timestampStringLocation != nil {
		tt = tt.In(t.timestampStringLocation)
	}
	return tt.Format(fracTimeFormat[t.Dec])
}

func formatZeroTime(frac int, dec int) string {
	if dec == 0 {
		return "0000-00-00 00:00:00"
	}

	s := fmt.Sprintf("0000-00-00 00:00:00.%06d", frac)

	// dec is in [1, 6]
	return s[0 : len(s)-(6-dec)]
}

// formatBeforeUnixZeroTime renders a datetime below the unix epoch as a
// plain string, sidestepping calendar libraries that misbehave there.
func formatBeforeUnixZeroTime(year, month, day, hour, minute, second, frac, dec int) string {
	if dec == 0 {
		return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", year, month, day, hour, minute, second)
	}

	s := fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%06d", year, month, day, hour, minute, second, frac)
	return s[0 : len(s)-(6-dec)]
}

func init() {
	fracTimeFormat = make([]string, 7)
	fracTimeFormat[0] = mysql.TimeFormat

	for i := 1; i <= 6; i++ {
		fracTimeFormat[i] = mysql.TimeFormat + "." + strings.Repeat("0", i)
	}
}
