package mongoclient

import (
	"errors"
	"fmt"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// translate converts driver errors into the sentinels of the domain package.
// The driver error is always kept in the chain. Errors it does not know are
// returned unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %w", domain.ErrDuplicateKey, err)
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return &domain.CommandError{Code: ce.Code, Message: ce.Message, Err: err}
	}
	return err
}
