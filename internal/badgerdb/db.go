package badgerdb

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

type Config struct {
	Path     string
	InMemory bool
}

// Open открывает встроенное хранилище. InMemory: всё в памяти, для dev и тестов.
func Open(cfg Config) (*badger.DB, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path != "":
		opts = badger.DefaultOptions(cfg.Path)
	default:
		return nil, errors.New("badger: path is required unless inMemory is set")
	}

	return badger.Open(opts.WithLoggingLevel(badger.ERROR))
}
