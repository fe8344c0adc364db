package snapshot

import "fmt"

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatBytes renders a byte count with 1024-based units and two decimals,
// e.g. 8e9 -> "7.45 GB". Values above 1024 TB stay in TB.
func FormatBytes(n uint64) string {
	v := float64(n)
	unit := 0
	for v > 1024 && unit < len(byteUnits)-1 {
		v /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", v, byteUnits[unit])
}
