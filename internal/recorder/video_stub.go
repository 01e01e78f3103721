//go:build !opencv

package recorder

import (
	"fmt"

	"github.com/railvision/wagon-capture/internal/source"
)

// OpenVideo reports that container encoding needs the opencv build tag.
func OpenVideo(path string, _ source.Info, _ string) (Sink, error) {
	return nil, fmt.Errorf("cannot encode %s: built without -tags opencv (use a .mjpeg output)", path)
}
