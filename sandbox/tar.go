package sandbox

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"time"
)

// Artifact file permission inside the container.
const artifactMode = 0o644

// packArtifact builds an uncompressed tar stream containing the artifact as
// a single regular file named name, suitable for copy-in staging.
func packArtifact(name string, data []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	hdr := &tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     artifactMode,
		Size:     int64(len(data)),
		ModTime:  time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize tar: %w", err)
	}

	return &buf, nil
}
