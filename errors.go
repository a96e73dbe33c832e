package nachosfs

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type baseDriverError string

const rootError = baseDriverError("")

var ErrArgumentOutOfRange = rootError.WithMessage("Numerical argument out of domain")
var ErrFileSystemCorrupted = rootError.WithMessage("Structure needs cleaning")
var ErrFileTooLarge = rootError.WithMessage("File too large")
var ErrInvalidArgument = rootError.WithMessage("Invalid argument")
var ErrIOFailed = rootError.WithMessage("Input/output error")
var ErrNoSpaceOnDevice = rootError.WithMessage("No space left on device")
var ErrNotFound = rootError.WithMessage("No such file or directory")
var ErrReadOnlyFileSystem = rootError.WithMessage("Read-only file system")

func (e baseDriverError) Error() string {
	return string(e)
}

func (e baseDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       message,
		originalError: e,
	}
}

func (e baseDriverError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customDriverError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customDriverError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customDriverError) Unwrap() error {
	return e.originalError
}

// CastToDriverError converts an arbitrary error into a [DriverError]. Errors
// that already are driver errors are returned as-is, anything else is wrapped
// with [ErrIOFailed]. A nil error stays nil.
func CastToDriverError(err error) DriverError {
	if err == nil {
		return nil
	}

	var driverErr DriverError
	if errors.As(err, &driverErr) {
		return driverErr
	}
	return ErrIOFailed.Wrap(err)
}
