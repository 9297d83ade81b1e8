package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/latentwalk/api-go/internal/model"
)

// ArtifactPrefix starts every name the service writes into the namespace.
const ArtifactPrefix = "latent_walk_"

// ArtifactName returns the artifact name for a job and extension (".mp4").
func ArtifactName(jobID, ext string) string {
	return ArtifactPrefix + jobID + ext
}

// LocalFS is a flat directory of job artifacts. Only names produced by
// ArtifactName are addressable.
type LocalFS struct {
	Root string
}

// ValidateName rejects names that could escape Root or that the service
// would never have produced.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: artifact name is required", model.ErrValidation)
	case strings.ContainsAny(name, `/\`) || strings.Contains(name, ".."):
		return fmt.Errorf("%w: invalid artifact name %q", model.ErrValidation, name)
	case !strings.HasPrefix(name, ArtifactPrefix):
		return fmt.Errorf("%w: %q is not a managed artifact", model.ErrValidation, name)
	}
	return nil
}

// Path resolves name to an absolute path inside Root.
func (l LocalFS) Path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(l.Root, name), nil
}

// Put writes r under name, replacing any existing artifact atomically.
func (l LocalFS) Put(name string, r io.Reader) (string, error) {
	abs, err := l.Path(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(l.Root, "."+name+".*.partial")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return "", err
	}
	return name, nil
}

// Open returns the artifact for reading; model.ErrNotFound if it is missing.
func (l LocalFS) Open(name string) (*os.File, error) {
	abs, err := l.Path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("artifact %s: %w", name, model.ErrNotFound)
	}
	return f, err
}

func (l LocalFS) Exists(name string) bool {
	abs, err := l.Path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// Remove deletes an artifact. Missing artifacts are not an error.
func (l LocalFS) Remove(name string) error {
	abs, err := l.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RemovePartials deletes leftover in-progress files from a previous run and
// returns how many were removed.
func (l LocalFS) RemovePartials() (int, error) {
	matches, err := filepath.Glob(filepath.Join(l.Root, "."+ArtifactPrefix+"*.partial"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
