package orchestration

import (
	"fmt"
)

// panicSafe runs run and reports a panic inside it as an error, so one
// misbehaving collaborator cannot take the conversation down.
func panicSafe(name string, run func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s panicked: %v", name, recovered)
		}
	}()

	if err = run(); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}

	return nil
}
