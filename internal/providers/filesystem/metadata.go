package filesystem

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// FormatSize renders a byte count with one decimal in the largest unit that
// keeps the value at or above 1. GB is the largest unit used.
func FormatSize(size int64) string {
	if size <= 0 {
		return "0"
	}
	value := float64(size)
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f%s", value, sizeUnits[unit])
}

const defaultContentType = "application/octet-stream"

// detectContentType sniffs the content type of the file at p.
func detectContentType(p string) string {
	mtype, err := mimetype.DetectFile(p)
	if err != nil || mtype == nil {
		return defaultContentType
	}
	return mtype.String()
}
