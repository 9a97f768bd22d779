package pipeline

import (
	"errors"
	"fmt"
)

// ErrPermanent marks a job failure that will not succeed on redelivery, such
// as a malformed payload or a missing row. Permanent failures are deleted
// from the queue; everything else is left for the visibility timeout to
// redeliver.
var ErrPermanent = errors.New("permanent job failure")

// Permanent wraps err so IsPermanent reports true for it.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
