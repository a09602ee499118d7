package scheduler

import "github.com/stretchplay/engine/internal/errors"

const component = "scheduler"

var (
	ErrDisposed = errors.Newf("scheduler has been disposed").
			Component(component).
			Category(errors.CategoryState).
			Build()

	ErrEmptyTable = errors.Newf("chunk table is empty").
			Component(component).
			Category(errors.CategoryValidation).
			Build()
)
