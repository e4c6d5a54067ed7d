package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/mezonai/chainfork/cmd"
	"github.com/mezonai/chainfork/logx"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			logx.Error("NODE", fmt.Sprintf("NODE CRASHED: %v\n%s", r, debug.Stack()))
			os.Exit(1)
		}
	}()

	cmd.Execute()
}
