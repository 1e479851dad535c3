// pkg/actions/action.go
package actions

import "context"

// Action is an enforcement primitive the executor can apply to a subject.
// Execute returns how many processes were affected; zero with a nil error
// means the subject simply was not running.
type Action interface {
	Name() string
	Execute(ctx context.Context, subject string) (int, error)
}
