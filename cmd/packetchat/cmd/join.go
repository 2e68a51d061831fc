package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/packetnet/session"
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a chat room and send stdin lines",
	RunE:  startJoin,
}

func init() {
	Root.AddCommand(joinCmd)
}

func startJoin(cmd *cobra.Command, args []string) error {
	f, err := loadFactory(cmd)
	if err != nil {
		return err
	}
	cfg := f.GetCurrentConfig()
	closer, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	mgr, err := newManager(f)
	if err != nil {
		return err
	}
	client, err := newChatClient(mgr, rootFlags.Name, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	if err := mgr.StartClient(cfg.Address, cfg.Port, cfg.Key); err != nil {
		return err
	}
	defer mgr.StopAll()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lines := readLines(cmd.InOrStdin())
	return runClient(ctx, mgr, client, lines, cfg.PollInterval)
}

// readLines feeds input lines to a channel that closes at EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// runClient polls the manager and sends lines until the session ends, the
// input closes or ctx is done. Everything touching the manager stays on
// this goroutine.
func runClient(ctx context.Context, mgr *session.Manager, client *chatClient, lines <-chan string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				mgr.Poll()
				return nil
			}
			if err := client.say(line); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "runClient",
					"error":    err.Error(),
				}).Warn("Message not sent")
				fmt.Fprintf(client.out, "* not sent: %v\n", err)
			}
		case <-ticker.C:
			mgr.Poll()
			if !mgr.IsActive() {
				return nil
			}
		}
	}
}
