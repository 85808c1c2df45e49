//go:build !unix

package docstore

// Only the in-process mutex guards writes on platforms without flock.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
