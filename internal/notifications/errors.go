package notifications

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTarget        = errors.New("invalid target")
	ErrInvalidMessage       = errors.New("invalid message")
	ErrRecipientNotFound    = errors.New("recipient not found")
	ErrDirectoryUnavailable = errors.New("user directory unavailable")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrMessageNotFound      = errors.New("message not found")
	ErrDeliveryNotFound     = errors.New("delivery not found")
)

// FanoutError reports a fan-out that stopped part way. The counts cover the
// chunks committed before the failure; those rows stay in place.
type FanoutError struct {
	MessageID      string
	Created        int
	AlreadyExisted int
	Err            error
}

func (e *FanoutError) Error() string {
	return fmt.Sprintf("fan-out of message %s stopped after %d created, %d already existed: %v",
		e.MessageID, e.Created, e.AlreadyExisted, e.Err)
}

func (e *FanoutError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}
