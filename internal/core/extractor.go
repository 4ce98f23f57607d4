package core

import (
	"context"

	"github.com/markdave123-py/chatbase/internal/models"
)

// Payload is the raw input of one source handed to an extractor.
type Payload struct {
	Kind     models.SourceKind
	Filename string
	URL      string
	Data     []byte
}

// DocumentExtractor turns a source payload into plain UTF-8 text.
type DocumentExtractor interface {
	Extract(ctx context.Context, p Payload) (string, error)
}
