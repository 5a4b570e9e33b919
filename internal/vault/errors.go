package vault

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCollateralType indicates a snapshot lacks the analysed collateral type.
	ErrMissingCollateralType = errors.New("vault: collateral type missing from snapshot")
	// ErrMissingVaultInSecondSnapshot indicates a vault has no counterpart in the later snapshot.
	ErrMissingVaultInSecondSnapshot = errors.New("vault: vault missing from second snapshot")
	// ErrMissingField indicates a required wire field was absent or null.
	ErrMissingField = errors.New("vault: required field missing")
)

// LoadError reports an unreadable or malformed input file or directory.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ParseError reports a field that could not be converted to its semantic type.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// MissingCollateralTypeError names the block and symbol that were absent.
type MissingCollateralTypeError struct {
	Block  string
	Symbol string
}

func (e *MissingCollateralTypeError) Error() string {
	return fmt.Sprintf("block %s has no %s vault set", e.Block, e.Symbol)
}

func (e *MissingCollateralTypeError) Is(target error) bool {
	return target == ErrMissingCollateralType
}

// MissingFieldError reports required wire fields that were absent or null.
type MissingFieldError struct {
	Kind   string
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: missing required field(s) %s", e.Kind, strings.Join(e.Fields, ", "))
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}
