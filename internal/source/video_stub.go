//go:build !opencv

package source

import "fmt"

// OpenVideo reports that video decoding needs the opencv build tag.
func OpenVideo(path string) (Source, error) {
	return nil, fmt.Errorf("cannot decode video %s: built without -tags opencv (use an image sequence directory)", path)
}
