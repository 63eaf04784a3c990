// Package repository holds the errors shared by the job store backends.
package repository

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyTerminal = errors.New("job already terminal")
)
