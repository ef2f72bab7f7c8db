package terminate

import (
	"context"
	"os"

	"golang.org/x/term"
)

// Keyboard puts stdin into raw (non-canonical, non-echo) mode so a single
// 'q' keypress can trigger shutdown without a newline.
type Keyboard struct {
	fd    int
	state *term.State
}

// OpenKeyboard switches stdin to raw mode. When stdin is not a terminal
// (the terminator was started under a supervisor or with redirected input)
// it returns nil and the signal path remains the only trigger.
func OpenKeyboard() (*Keyboard, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &Keyboard{fd: fd, state: state}, nil
}

// WaitQuit blocks until 'q' or 'Q' is typed or the context is canceled.
// Reports whether a quit key was the cause.
func (k *Keyboard) WaitQuit(ctx context.Context) bool {
	quit := make(chan struct{})
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if n == 1 && (buf[0] == 'q' || buf[0] == 'Q') {
				close(quit)
				return
			}
		}
	}()

	select {
	case <-quit:
		return true
	case <-ctx.Done():
		return false
	}
}

// Restore puts the terminal back into its original mode.
func (k *Keyboard) Restore() {
	if k != nil && k.state != nil {
		_ = term.Restore(k.fd, k.state)
		k.state = nil
	}
}
