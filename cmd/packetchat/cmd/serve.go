package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host a chat room",
	RunE:  startServe,
}

func init() {
	Root.AddCommand(serveCmd)
}

func startServe(cmd *cobra.Command, args []string) error {
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
	name := rootFlags.Name
	if name == "" {
		name = "server"
	}
	if _, err := newChatServer(mgr, name, cmd.OutOrStdout()); err != nil {
		return err
	}

	if err := mgr.StartServer(cfg.Port); err != nil {
		return err
	}
	defer mgr.StopAll()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logrus.WithFields(logrus.Fields{
		"function":  "startServe",
		"transport": cfg.Transport,
		"port":      cfg.Port,
	}).Info("Chat server running")

	if err := mgr.Run(ctx, cfg.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
