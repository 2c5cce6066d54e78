// Package util provides small helpers shared by the replay commands and
// storage backends.
package util

import (
	"fmt"
	"math"
	"strings"
)

var fileNameReplacer = strings.NewReplacer(" ", "_", ":", "_", "/", "_", "\\", "_")

// SafeFileName replaces characters that are unsafe in file names with
// underscores.
func SafeFileName(name string) string {
	return fileNameReplacer.Replace(name)
}

// FormatPlaybackTime formats seconds as HH:MM:SS.sss. Negative and NaN
// inputs format as zero.
func FormatPlaybackTime(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}
