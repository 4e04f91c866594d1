package loadstore

import "errors"

// Config is the (serializable) configuration handed to worker goroutines:
// the root directories for the temp and processing trees described in
// spec.md §6.
type Config struct {
	TempDir       string
	ProcessingDir string
}

// ErrLoadPackageNotFound names the case of a load_id whose temp directory
// was never created. No operation in this package returns it: a missing
// temp directory surfaces as the wrapped filesystem error of the operation
// that touched it.
var ErrLoadPackageNotFound = errors.New("loadstore: load package not found")
