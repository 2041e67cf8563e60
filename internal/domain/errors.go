package domain

import "errors"

// ErrNotFound возвращается хранилищем, если запись отсутствует.
var ErrNotFound = errors.New("not found")
