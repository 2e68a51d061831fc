package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/opd-ai/packetnet/config"
	"github.com/opd-ai/packetnet/factory"
)

var (
	Root = &cobra.Command{
		Use:          "packetchat",
		Short:        "Minimal chat room over packetnet sessions",
		SilenceUsage: true,
	}
	rootFlags = struct {
		Config    string
		Transport string
		Address   string
		Port      int
		Key       string
		Name      string
		LogLevel  string
	}{}
)

func init() {
	pf := Root.PersistentFlags()
	pf.StringVar(&rootFlags.Config, "config", "", "path to a TOML configuration file")
	pf.StringVar(&rootFlags.Transport, "transport", config.TransportQUIC, "transport to use: quic or ws")
	pf.StringVar(&rootFlags.Address, "address", "localhost", "server address to join")
	pf.IntVar(&rootFlags.Port, "port", 27015, "server port")
	pf.StringVar(&rootFlags.Key, "key", "", "shared connection key")
	pf.StringVar(&rootFlags.Name, "name", "", "display name in the chat")
	pf.StringVar(&rootFlags.LogLevel, "log-level", "info", "the log level to use")
}

// loadFactory builds a transport factory whose defaults come from the
// environment, then layers the config file and finally any flag the user
// set explicitly.
func loadFactory(cmd *cobra.Command) (*factory.TransportFactory, error) {
	f := factory.NewTransportFactory()
	cfg := f.GetCurrentConfig()
	if rootFlags.Config != "" {
		loaded, err := config.Load(rootFlags.Config)
		if err != nil {
			return nil, err
		}
		cfg = config.FromEnv(loaded)
	}

	flags := cmd.Flags()
	if flags.Changed("address") {
		cfg.Address = rootFlags.Address
	}
	if flags.Changed("port") {
		cfg.Port = rootFlags.Port
	}
	if flags.Changed("key") {
		cfg.Key = rootFlags.Key
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = rootFlags.LogLevel
	}
	if err := f.UpdateConfig(cfg); err != nil {
		return nil, err
	}

	if flags.Changed("transport") {
		if err := f.SwitchTransport(rootFlags.Transport); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// setupLogging configures the global logrus logger. The returned closer
// flushes the log file, if any.
func setupLogging(cfg config.Config) (io.Closer, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("bad log level: %w", err)
	}
	logrus.SetLevel(level)

	var out io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if cfg.LogFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		}
		out, closer = rotating, rotating
	}
	logrus.SetOutput(out)

	format := cfg.LogFormat
	if format == "auto" {
		format = "json"
		if cfg.LogFile == "" && isatty.IsTerminal(os.Stderr.Fd()) {
			format = "text"
		}
	}
	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return closer, nil
}
