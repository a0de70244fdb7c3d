// Package blob uploads attachment bytes and returns their public URLs.
package blob

import (
	"context"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Store persists an uploaded file and returns a URL for it.
type Store interface {
	Upload(ctx context.Context, data []byte, name, mimeType string) (string, error)
}

// objectKey builds a collision-free key that keeps the original file name.
func objectKey(prefix, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "file"
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r < 0x20 || r == 0x7f || r == '?' || r == '#':
			return -1
		}
		return r
	}, base)
	return path.Join(prefix, uuid.Must(uuid.NewV7()).String(), base)
}
