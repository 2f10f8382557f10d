package downloader

import (
	"errors"
	"os"

	"github.com/aluiziolira/go-scrape-images/errs"
)

// ValidateDestination checks that dir exists, is a directory and accepts new
// files.
func ValidateDestination(dir string) error {
	if dir == "" {
		return errs.ErrInvalidDestination{Path: dir, Err: errors.New("no directory given")}
	}
	info, err := os.Stat(dir)
	if err != nil {
		return errs.ErrInvalidDestination{Path: dir, Err: err}
	}
	if !info.IsDir() {
		return errs.ErrInvalidDestination{Path: dir, Err: errors.New("not a directory")}
	}

	probe, err := os.CreateTemp(dir, ".harvester-probe-*")
	if err != nil {
		return errs.ErrInvalidDestination{Path: dir, Err: err}
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}
