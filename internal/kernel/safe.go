package kernel

import (
	"github.com/go-faster/errors"
)

// runSafely calls fn, turning a panic into an error prefixed with scope.
// A panic carrying an error keeps it in the chain for errors.Is.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		switch recovered := recover().(type) {
		case nil:
		case error:
			err = errors.Wrapf(recovered, "%s: panic", scope)
		default:
			err = errors.Errorf("%s: panic: %v", scope, recovered)
		}
	}()

	if err := fn(); err != nil {
		return errors.Wrap(err, scope)
	}

	return nil
}
