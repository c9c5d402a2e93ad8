// Command overlay runs the overlay daemon and talks to it over its unix
// socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		// The failure has already been printed.
		if !errors.Is(err, errRequestFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
