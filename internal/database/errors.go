package database

import "github.com/corvid-systems/agency/internal/agencyerr"

var (
	errNotFoundSentinel = agencyerr.ErrNotFound
	errConflictSentinel = agencyerr.ErrConflict
)
