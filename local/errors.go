package local

import (
	"errors"
	"fmt"

	"github.com/creastat/chatsync"
)

// Errors returned while building a local store.
var (
	ErrInvalidConfig    = fmt.Errorf("local store: %w", chatsync.ErrInvalidConfig)
	ErrInvalidStoreType = errors.New("invalid local store type")
	ErrClosed           = errors.New("local store is closed")
)
