package pipeline

import (
	"context"
	"errors"
	"net"

	"gorm.io/gorm"

	"github.com/openregistry/tmbulk/internal/decode"
)

// The pipeline never lets a fault cross the file-ledger boundary as a bare
// error: every failure becomes a status/attempts update plus a log line.
// Classification decides which update.

// IsDecode reports a malformed-record error, counted against the per-file
// decode budget.
func IsDecode(err error) bool {
	var de *decode.DecodeError
	return errors.As(err, &de)
}

// IsConstraint reports a data error at commit time: a row the target table
// rejects. Eligible for per-row skip within the configured tolerance;
// otherwise the batch aborts and stays parsed-uncommitted.
func IsConstraint(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, gorm.ErrForeignKeyViolated) ||
		errors.Is(err, gorm.ErrCheckConstraintViolated) ||
		errors.Is(err, gorm.ErrInvalidValue)
}

// IsTransient reports an infrastructure error worth a bounded retry:
// connection loss, timeout, cancellation by deadline.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, gorm.ErrInvalidTransaction)
}
