package remote

import (
	"fmt"

	"github.com/catalogops/metasync/internal/entity"
)

// FetchError indicates the remote catalog was unreachable or a page fetch
// exhausted its retries. The whole fetch is considered failed; callers
// should fall back to a previously loaded view where possible.
type FetchError struct {
	EntityType entity.Type
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s entities: %v", e.EntityType, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError indicates a single remote record could not be normalized by
// any known extraction strategy. The record is excluded from the fetch
// result; the fetch itself continues.
type ParseError struct {
	EntityType entity.Type
	Raw        string
	Err        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s record: %v", e.EntityType, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// WriteError indicates an upsert or delete against the remote catalog
// failed. The client never retries writes; the caller decides.
type WriteError struct {
	URN string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("remote write for %s: %v", e.URN, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// NotFoundError indicates a URN lookup matched nothing remotely.
type NotFoundError struct {
	URN string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("remote entity not found: %s", e.URN)
}
