package protocol

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrorPrefix marks a response that carries a renderer exception.
const ErrorPrefix = "ERROR:"

var (
	ErrProtocolViolation = errors.New("renderer protocol violation")
	ErrInvalidUTF8       = errors.New("response is not valid UTF-8")
)

// ExceptionError is an exception raised inside the renderer while rendering.
type ExceptionError struct {
	Message string
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("renderer exception: %s", e.Message)
}

// ReadResponse reads r until the peer closes it.
func ReadResponse(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// ParseResponse returns the rendered output, or an *ExceptionError if the response carries the error marker.
func ParseResponse(res string) (string, error) {
	if !strings.HasPrefix(res, ErrorPrefix) {
		return res, nil
	}
	_, msg, ok := strings.Cut(res, ":")
	if !ok {
		return "", fmt.Errorf("%w: error marker without separator", ErrProtocolViolation)
	}
	return "", &ExceptionError{Message: msg}
}

// FormatException builds the response a renderer sends when rendering fails.
func FormatException(msg string) []byte {
	return []byte(ErrorPrefix + msg)
}
