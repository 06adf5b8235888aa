package cfg

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

// DotEnvFiles are loaded in order; a variable set by an earlier file, or
// already present in the environment, is not overwritten.
var DotEnvFiles = []string{".env.local", ".env"}

// LoadDotEnv loads files into the process environment, skipping any that
// do not exist. With no files, DotEnvFiles is used.
func LoadDotEnv(logf func(format string, args ...any), files ...string) error {
	if len(files) == 0 {
		files = DotEnvFiles
	}
	var errs []error
	for _, f := range files {
		err := godotenv.Load(f)
		switch {
		case err == nil:
			if logf != nil {
				logf("loaded environment from %s", f)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
