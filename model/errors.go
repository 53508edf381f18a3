package model

import (
	"errors"
	"fmt"
)

var (
	// ErrBadInput is the parent of every input validation failure raised at a
	// call boundary: heights, frequencies, regions and malformed grants.
	ErrBadInput = errors.New("bad input")
	// ErrBadGrant reports a grant record that cannot be normalized.
	ErrBadGrant = fmt.Errorf("%w: malformed grant", ErrBadInput)
)
