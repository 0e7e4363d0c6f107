package storage

import (
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

var (
	// ErrNotFound marks a referenced board, column, task or user that does
	// not exist.
	ErrNotFound = errors.New("not found")
)

// isStatus reports whether err is a service response with the given code.
func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

func mapNotFound(err error) error {
	if isStatus(err, 404) {
		return ErrNotFound
	}
	return err
}
