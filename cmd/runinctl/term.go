package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/arloliu/go-runin/transport"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// escapeByte ends an interactive session (Ctrl-]).
const escapeByte = 0x1d

var termCmd = &cobra.Command{
	Use:   "term",
	Short: "Open an interactive console on the device",
	Long: `term connects to the device and forwards keystrokes to it verbatim while
printing everything the device sends. Press Ctrl-] to quit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		s, err := newSession(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.close()

		s.tr.AddHandlers(transport.Handlers{
			OnDisconnect: func(_ *transport.Transport, cause error) {
				if cause != nil {
					fmt.Fprintf(os.Stderr, "\r\n[runinctl] link lost: %v\r\n", cause)
				}
				cancel()
			},
		})

		if err := s.connect(ctx); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "[runinctl] connected at %d baud, Ctrl-] to quit\r\n", s.cfg.Baud)

		fd := int(os.Stdin.Fd())
		if term.IsTerminal(fd) {
			state, err := term.MakeRaw(fd)
			if err != nil {
				return err
			}
			defer func() { _ = term.Restore(fd, state) }()
		}

		go forwardInput(os.Stdin, s.tr, cancel)

		<-ctx.Done()

		return nil
	},
}

// forwardInput copies keystrokes to the device until the escape byte or the
// end of input.
func forwardInput(r io.Reader, w io.Writer, done context.CancelFunc) {
	defer done()

	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			if buf[i] == escapeByte {
				if i > 0 {
					_, _ = w.Write(buf[:i])
				}

				return
			}
		}
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func init() {
	rootCmd.AddCommand(termCmd)
}
