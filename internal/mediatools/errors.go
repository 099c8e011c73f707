package mediatools

import "fmt"

// TransformError reports a failed media transformation. Stderr carries the
// tail of the tool's diagnostic output.
type TransformError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *TransformError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}
