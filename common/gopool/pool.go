package gopool

import (
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"
)

var (
	// Init a instance pool when importing ants.
	defaultPool, _ = ants.NewPool(ants.DefaultAntsPoolSize, ants.WithExpiryDuration(10*time.Second))

	// Optimizing a function is cheap; only spread across cores once a batch
	// carries at least this many of them.
	minFuncsPerWorker = 4
)

// Submit submits a task to pool.
func Submit(task func()) error {
	return defaultPool.Submit(task)
}

// Running returns the number of the currently running goroutines.
func Running() int {
	return defaultPool.Running()
}

// Cap returns the capacity of this default pool.
func Cap() int {
	return defaultPool.Cap()
}

// Free returns the available goroutines to work.
func Free() int {
	return defaultPool.Free()
}

// Tune resizes the default pool. Used by the --jobs flag; a non-positive
// value leaves the pool at its current capacity.
func Tune(size int) {
	if size > 0 {
		defaultPool.Tune(size)
	}
}

// Release Closes the default pool.
func Release() {
	defaultPool.Release()
}

// Reboot reboots the default pool.
func Reboot() {
	defaultPool.Reboot()
}

// Workers returns how many pool workers a batch of tasks should occupy.
func Workers(tasks int) int {
	workers := tasks / minFuncsPerWorker
	if workers > runtime.NumCPU() {
		workers = runtime.NumCPU()
	} else if workers == 0 {
		workers = 1
	}
	return workers
}
