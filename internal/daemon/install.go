package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ErrInstall marks a failure to install unit files.
var ErrInstall = errors.New("daemon: install units")

// InstallUnits copies every file in UnitsDir matching UnitGlobs into LibPath.
// It stops at the first error. It returns the installed paths in order.
// An unset UnitsDir is an install failure.
func (c *Controller) InstallUnits() ([]string, error) {
	if c.cfg.UnitsDir == "" {
		return nil, fmt.Errorf("%w: units dir is not set (units_dir, SYSMST_UNITS_DIR or --units-dir)", ErrInstall)
	}

	var sources []string
	for _, g := range c.cfg.UnitGlobs {
		matches, err := filepath.Glob(filepath.Join(c.cfg.UnitsDir, g))
		if err != nil {
			return nil, fmt.Errorf("%w: bad glob %q: %w", ErrInstall, g, err)
		}
		sources = append(sources, matches...)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no files in %s match %v", ErrInstall, c.cfg.UnitsDir, c.cfg.UnitGlobs)
	}
	sort.Strings(sources)

	installed := make([]string, 0, len(sources))
	for _, src := range sources {
		dst, err := copyFileAtomic(src, c.cfg.LibPath)
		if err != nil {
			return installed, fmt.Errorf("%w: %s: %w", ErrInstall, src, err)
		}
		installed = append(installed, dst)
	}
	c.logger.Info("installed unit files", "count", len(installed), "dir", c.cfg.LibPath)
	return installed, nil
}

// copyFileAtomic copies src into dir through a temp file and rename, so the
// daemon never sees a partial unit file.
func copyFileAtomic(src, dir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", err
	}

	name := filepath.Base(src)
	target := filepath.Join(dir, name)
	tmp := filepath.Join(dir, ".tmp-"+name)

	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp) // clean up on error

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return target, os.Rename(tmp, target)
}
