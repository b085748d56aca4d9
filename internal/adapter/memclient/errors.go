package memclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/modifier"
)

// Server error codes reported by the in-memory client.
const (
	CodeBadValue                  = 2
	CodeFailedToParse             = 9
	CodeNamespaceNotFound         = domain.CodeNamespaceNotFound
	CodeIndexNotFound             = 27
	CodeNamespaceExists           = 48
	CodeCommandNotFound           = 59
	CodeImmutableField            = 66
	CodeInvalidOptions            = 72
	CodeInvalidNamespace          = 73
	CodeIndexOptionsConflict      = 85
	CodeIndexKeySpecsConflict     = 86
	CodeWriteConflict             = 112
	CodeDocumentValidationFailure = 121
	CodeDuplicateKey              = 11000
)

var (
	// ErrClientDisconnected is returned by every call made after
	// [Client.Disconnect].
	ErrClientDisconnected = errors.New("client is disconnected")
	// ErrNoTransaction is returned when a transaction is committed or
	// aborted without being started.
	ErrNoTransaction = errors.New("no transaction started")
	// ErrTransactionInProgress is returned when a session starts a
	// second transaction.
	ErrTransactionInProgress = errors.New("transaction already in progress")
)

func commandError(code int32, format string, args ...any) error {
	return &domain.CommandError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// badValue reports an engine failure as the server would. Unsupported
// operations are returned unchanged.
func badValue(err error) error {
	var unsupported *domain.UnsupportedOperationError
	var ce *domain.CommandError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &unsupported), errors.As(err, &ce),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, modifier.ErrImmutableID):
		return &domain.CommandError{
			Code:    CodeImmutableField,
			Message: "Performing an update on the path '_id' would modify the immutable field '_id'",
			Err:     err,
		}
	case errors.Is(err, domain.ErrDuplicateKey):
		return &domain.CommandError{Code: CodeDuplicateKey, Message: "E11000 " + err.Error(), Err: err}
	}
	return &domain.CommandError{Code: CodeBadValue, Message: err.Error(), Err: err}
}
