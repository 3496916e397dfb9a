package orders

import "errors"

var (
	ErrNotPayable = errors.New("order not payable")
	ErrNotFound   = errors.New("order not found")
)
