package types

import "fmt"

// StatusCode is an HTTP-flavoured response code. The zero value reads as 500
// so that an unset code is never mistaken for success.
type StatusCode uint16

const (
	StatusOK                  StatusCode = 200
	StatusCreated             StatusCode = 201
	StatusNoContent           StatusCode = 204
	StatusPartialContent      StatusCode = 206
	StatusNotModified         StatusCode = 304
	StatusNotFound            StatusCode = 404
	StatusMethodNotAllowed    StatusCode = 405
	StatusRangeNotSatisfiable StatusCode = 416
	StatusInternalError       StatusCode = 500
	StatusVersionMismatch     StatusCode = 505
)

func (c StatusCode) String() string {
	if c == 0 {
		return "500"
	}
	return fmt.Sprintf("%d", uint16(c))
}

// Norm maps the unset zero value to 500, everything else to itself.
func (c StatusCode) Norm() StatusCode {
	if c == 0 {
		return StatusInternalError
	}
	return c
}

// IsRedirect reports whether c is in the header-declarable redirect window.
func (c StatusCode) IsRedirect() bool {
	return c >= 300 && c <= 309
}
