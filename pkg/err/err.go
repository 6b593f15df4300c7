package errprocess

import (
	"errors"
	"fmt"

	"realtime_chat_service/pkg/logger"
)

// Set logs errMsg and returns it as an error.
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}

// Wrap logs and wraps err with msg, nil stays nil.
func Wrap(msg string, err error) error {
	if err == nil {
		return nil
	}
	logger.Log.Errorf(msg, err)
	return fmt.Errorf("%s: %w", msg, err)
}
