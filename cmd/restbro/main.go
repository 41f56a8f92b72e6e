package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/unkn0wn-root/restbro/internal/errdef"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdout, os.Stderr)
	err := a.newRootCmd().ExecuteContext(ctx)
	if closeErr := a.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, a.styles.errorText.Render("error: "+errdef.Message(err)))
		os.Exit(exitCode(err))
	}
}

// exitCode maps error families to distinct codes for scripting.
func exitCode(err error) int {
	switch errdef.CodeOf(err) {
	case errdef.CodeNotFound:
		return 3
	case errdef.CodePreScript, errdef.CodePostScript, errdef.CodeScript:
		return 4
	case errdef.CodeTimeout, errdef.CodeConnect, errdef.CodeHTTP:
		return 5
	default:
		return 1
	}
}
