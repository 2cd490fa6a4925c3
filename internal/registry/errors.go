package registry

import (
	"errors"
	"fmt"

	"github.com/rickgao/tickhub/internal/model"
)

// ErrModeMismatch matches every ModeMismatchError.
var ErrModeMismatch = errors.New("feed mode mismatch")

// ModeMismatchError is returned when a consumer asks for a mode other than the
// one already active. Such a consumer needs a separate hub.
type ModeMismatchError struct {
	Active    model.Mode
	Requested model.Mode
}

func (e *ModeMismatchError) Error() string {
	return fmt.Sprintf("feed mode mismatch: active %s, requested %s", e.Active, e.Requested)
}

func (e *ModeMismatchError) Is(target error) bool {
	return target == ErrModeMismatch
}
