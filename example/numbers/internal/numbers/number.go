// Package numbers holds the demo job: it reads the integers 1..N and writes each with its
// square, either to memory or to Parquet part files.
package numbers

import "fmt"

// Number is the item of the demo job.
type Number struct {
	Value  int64 `parquet:"name=value, type=INT64"`
	Square int64 `parquet:"name=square, type=INT64"`
}

// Generate returns the numbers 1..n.
func Generate(n int) []Number {
	out := make([]Number, 0, n)
	for i := 1; i <= n; i++ {
		v := int64(i)
		out = append(out, Number{Value: v, Square: v * v})
	}
	return out
}

// Decade partitions numbers by tens, e.g. "decade=1" for 10..19.
func Decade(n Number) (string, error) {
	return fmt.Sprintf("decade=%d", n.Value/10), nil
}
