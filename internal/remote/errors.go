package remote

import "fmt"

// ListingError means a listing could not be trusted: the tool failed or its output was malformed.
type ListingError struct {
	Endpoint string
	Err      error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("list %s: %v", e.Endpoint, e.Err)
}

func (e *ListingError) Unwrap() error { return e.Err }

// TransferError is a failed copy or delete. Scope is set for copy batches, Path for deletes.
type TransferError struct {
	Op       string
	Endpoint string
	Scope    string
	Path     string
	Err      error
}

func (e *TransferError) Error() string {
	target := e.Endpoint
	switch {
	case e.Path != "":
		target += " path=" + e.Path
	case e.Scope != "":
		target += " scope=" + e.Scope
	}
	return fmt.Sprintf("%s %s: %v", e.Op, target, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ExitError is a non-zero exit status of the external tool.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return fmt.Sprintf("exit code %d: %s", e.Code, e.Stderr)
}
