package workerpool

import "github.com/stretchplay/engine/internal/errors"

const component = "workerpool"

var (
	ErrPoolTerminated = errors.Newf("worker pool has been terminated").
				Component(component).
				Category(errors.CategoryState).
				Build()

	ErrAllWorkersDead = errors.Newf("all worker slots have crashed past their retry limit").
				Component(component).
				Category(errors.CategoryWorker).
				Build()
)
