package cmd

import (
	"fmt"
	"os"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"gitlab.com/glidex/control-plane/utils"
)

// detachKey is Ctrl+], the classic escape of serial console tools.
const detachKey = 0x1d

func init() {
	rootCmd.AddCommand(consoleCmd)
}

var consoleCmd = &cobra.Command{
	Use:     "console <vm>",
	Short:   "Attach to a VM's serial console",
	Long:    `Attaches the terminal to the VM's live serial console. Press Ctrl+] to detach; the VM keeps running.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: isServerRunning(),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := utils.InternalWebsocketURL("/vm/" + args[0] + "/console")
		if err != nil {
			return err
		}

		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return fmt.Errorf("could not attach to console: %w", err)
		}
		defer ws.Close()

		fmt.Printf("Attached to %s. Press Ctrl+] to detach.\r\n", args[0])

		stdinFd := int(os.Stdin.Fd())
		if term.IsTerminal(stdinFd) {
			oldState, err := term.MakeRaw(stdinFd)
			if err != nil {
				return err
			}
			defer term.Restore(stdinFd, oldState)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, msg, err := ws.ReadMessage()
				if err != nil {
					return
				}
				os.Stdout.Write(msg)
			}
		}()

		input := make(chan byte)
		go func() {
			buf := make([]byte, 1)
			for {
				if _, err := os.Stdin.Read(buf); err != nil {
					close(input)
					return
				}
				input <- buf[0]
			}
		}()

		for {
			select {
			case <-done:
				fmt.Print("\r\nConnection closed.\r\n")
				return nil
			case b, ok := <-input:
				if !ok || b == detachKey {
					ws.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					fmt.Print("\r\nDetached.\r\n")
					return nil
				}
				if err := ws.WriteMessage(websocket.BinaryMessage, []byte{b}); err != nil {
					return nil
				}
			}
		}
	},
}
