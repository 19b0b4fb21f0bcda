package engram

import (
	"errors"
	"strings"

	"github.com/okvist/engram/pkg/store"
)

// Error type constants for classification. Absence (unknown ids, empty
// search results) is never an error in this engine; the only hard failures
// are invalid caller-supplied parameters and external collaborator failures.
const (
	ErrTypeValidation = "validation"
	ErrTypeEmbedding  = "embedding"
	ErrTypeUnknown    = "unknown"
)

// ClassifyError inspects an error and returns its type classification.
// This enables grouping errors by category in metrics and traces.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, store.ErrInvalidStrength) || errors.Is(err, store.ErrInvalidImportance) {
		return ErrTypeValidation
	}

	errStrLower := strings.ToLower(err.Error())
	if strings.Contains(errStrLower, "invalid") ||
		strings.Contains(errStrLower, "must be") ||
		strings.Contains(errStrLower, "cannot be empty") {
		return ErrTypeValidation
	}
	if strings.Contains(errStrLower, "embed") {
		return ErrTypeEmbedding
	}

	return ErrTypeUnknown
}
