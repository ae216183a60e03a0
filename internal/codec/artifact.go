package codec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	artifactPrefix      = "reference-"
	artifactExtension   = ".wav"
	artifactPermissions = 0o600
)

// ErrArtifactEmpty is returned when there is no audio to materialize.
var ErrArtifactEmpty = errors.New("reference audio cannot be empty")

// Artifact is a reference-audio payload materialized on disk for the duration
// of one model call.
type Artifact struct {
	path string
}

// WriteArtifact writes data to a uniquely named file in dir. An empty dir
// means os.TempDir().
func WriteArtifact(dir string, data []byte) (*Artifact, error) {
	if len(data) == 0 {
		return nil, ErrArtifactEmpty
	}

	if dir == "" {
		dir = os.TempDir()
	}

	path := filepath.Join(dir, artifactPrefix+uuid.NewString()+artifactExtension)

	// #nosec G304 -- the path is built from a fresh uuid inside the configured temp dir
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, artifactPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create reference audio artifact: %w", err)
	}

	_, writeErr := file.Write(data)
	closeErr := file.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(path)

		return nil, fmt.Errorf("failed to write reference audio artifact: %w", errors.Join(writeErr, closeErr))
	}

	return &Artifact{path: path}, nil
}

// Path returns the artifact's location on disk.
func (a *Artifact) Path() string {
	return a.path
}

// Remove deletes the artifact. Removing an already missing file is not an error.
func (a *Artifact) Remove() error {
	err := os.Remove(a.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove artifact '%s': %w", a.path, err)
	}

	return nil
}
