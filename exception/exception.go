package exception

import (
	"context"
	"os"
	"runtime/debug"

	"github.com/mezonai/chainfork/logx"
	"github.com/mezonai/chainfork/monitoring"
)

func recoverPanic(name string, exit bool) {
	if r := recover(); r != nil {
		monitoring.IncreasePanicCount()
		logx.Error("PANIC", "Panic in ", name, ": ", r, "\n", string(debug.Stack()))
		if exit {
			os.Exit(1)
		}
	}
}

// SafeGo runs fn in a goroutine; a panic is logged and counted, not propagated.
func SafeGo(name string, fn func()) {
	go func() {
		defer recoverPanic(name, false)
		fn()
	}()
}

// SafeGoWithPanic is SafeGo for goroutines the node cannot live without.
func SafeGoWithPanic(name string, fn func()) {
	go func() {
		defer recoverPanic(name, true)
		fn()
	}()
}

// SafeGoCtx skips fn entirely when ctx is already done.
func SafeGoCtx(ctx context.Context, name string, fn func(ctx context.Context)) {
	go func() {
		defer recoverPanic(name, false)
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	}()
}
