package interfaces

import (
	"context"
)

// Command handles one chat update: a message or a button callback.
type Command[T any] interface {
	Execute(ctx context.Context, update T)
}
