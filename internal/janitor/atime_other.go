//go:build !unix

package janitor

import (
	"io/fs"
	"time"
)

// atimeOf falls back to mtime on platforms without a POSIX atime field.
func atimeOf(info fs.FileInfo) time.Time {
	return info.ModTime()
}
