package internal

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrGone               = errors.New("url deleted")
	ErrInactive           = errors.New("url is inactive")
	ErrConflict           = errors.New("conflict")
	ErrCodeSpaceExhausted = errors.New("no free short code available")
)

var (
	ErrVanityTaken    = fmt.Errorf("%w: vanity string already in use", ErrConflict)
	ErrAlreadyInState = fmt.Errorf("%w: url already in requested state", ErrConflict)
	ErrEmailTaken     = fmt.Errorf("%w: account already registered", ErrConflict)
)
