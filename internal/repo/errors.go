package repo

import "errors"

// ErrNotFound is returned by RequestDocument when every candidate peer
// has reported absence and no further candidates exist (spec §4.5).
var ErrNotFound = errors.New("repo: document not found")

// ErrCancelled is returned by RequestDocument when the repo stops while
// the request is still outstanding (spec §7).
var ErrCancelled = errors.New("repo: cancelled")
