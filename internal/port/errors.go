package port

import "errors"

var (
	ErrNotFound = errors.New("record not found")
	// ErrOptimisticLock means a conditional write matched no row: the version
	// moved on or the guard (stock, state) no longer holds.
	ErrOptimisticLock   = errors.New("optimistic lock conflict")
	ErrDuplicate        = errors.New("duplicate record")
	ErrInvoiceCodeTaken = errors.New("invoice code already taken")
)
