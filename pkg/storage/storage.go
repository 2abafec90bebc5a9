// Package storage owns uploaded files until the pipeline is done with them.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/duynguyendang/lexa/pkg/common/errors"
)

// Store keeps uploaded artifacts by key.
type Store interface {
	Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Open makes the artifact available as a local file. release must be
	// called once the caller is done with path.
	Open(ctx context.Context, key string) (path string, release func(), err error)
	// Delete removes the artifact. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Key builds the artifact key for a session, keeping the upload's extension
// so format detection by name still works.
func Key(sessionID, fileName string) string {
	return sessionID + strings.ToLower(filepath.Ext(fileName))
}

func validateKey(key string) error {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("%w: invalid artifact key %q", errors.ErrInvalidInput, key)
	}
	return nil
}
