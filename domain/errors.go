package domain

import "errors"

var (
	ErrCapacityExceeded    = errors.New("bay capacity exceeded")
	ErrNoPrincipal         = errors.New("assignment requires a principal technician")
	ErrExitBeforeEntry     = errors.New("exit time is before entry time")
	ErrDuplicateTechnician = errors.New("technician assigned twice")
	ErrInvalidRole         = errors.New("technician role must be principal or assistant")
)
