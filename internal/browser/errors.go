package browser

import (
	"errors"
	"fmt"
)

// NavigationError reports a navigation or selector wait that did not complete in time
type NavigationError struct {
	URL      string
	Selector string
	Err      error
}

func (e *NavigationError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("navigation to %s: waiting for %s: %v", e.URL, e.Selector, e.Err)
	}
	return fmt.Sprintf("navigation to %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// IsNavigationError reports whether err wraps a *NavigationError
func IsNavigationError(err error) bool {
	var nav *NavigationError
	return errors.As(err, &nav)
}
