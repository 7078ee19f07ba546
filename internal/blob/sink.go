// Package blob stores uploaded binary attachments and hands back stable
// reference strings. References are persisted verbatim on the product, so
// the naming scheme below is part of the durable contract.
package blob

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"
)

type Sink interface {
	// Save durably writes r and returns the reference to store.
	Save(ctx context.Context, field, filename string, r io.Reader) (string, error)

	// Remove deletes a previously saved blob. Unknown references are not
	// an error.
	Remove(ctx context.Context, ref string) error
}

// objectName builds "<field>-<unix-millis>-<original-name>", the flat
// naming scheme existing stored references already use.
func objectName(field, filename string) string {
	return fmt.Sprintf("%s-%d-%s", field, time.Now().UnixMilli(), filepath.Base(filename))
}
