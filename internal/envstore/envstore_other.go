//go:build !windows

package envstore

import (
	"time"

	"github.com/spf13/afero"
)

func newPlatformStore(path string, _ time.Duration) Store {
	return NewFileStore(afero.NewOsFs(), path)
}
