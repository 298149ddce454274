package model

import (
	"errors"
)

var (
	ErrUnknownImportKind = errors.New("unknown import kind")
	ErrConfigVersion     = errors.New("unsupported config version")
)
