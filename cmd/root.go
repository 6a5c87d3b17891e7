package cmd

import (
	"github.com/sloonz/shelvery/lib"

	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	presetsDir  string
	logLevel    string
	logFormat   string
	configLines []string
	presets     map[string][]shelvery.KeyValuePair

	tag       = "git"
	commit    = "unknown"
	buildDate = "unknown"

	rootCmd = &cobra.Command{
		Use:   "shelvery",
		Short: "Tag-driven snapshot lifecycle for cloud resources",
	}
	cmdVersion = &cobra.Command{
		Use: "version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Version: %s\n", tag)
			fmt.Printf("Commit: %s\n", commit)
			fmt.Printf("Build Date: %s\n", buildDate)
		},
	}
)

func setupLogging() {
	if logLevel != "" {
		level, err := logrus.ParseLevel(logLevel)
		if err == nil {
			logrus.SetLevel(level)
		} else {
			logrus.Warnf("Cannot set log level: %v", err)
		}
	}

	if logFormat == "" {
		logFormat = os.Getenv(shelvery.KeyLogFormat)
	}
	if strings.EqualFold(logFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

func init() {
	cobra.OnInitialize(func() {
		var err error

		setupLogging()

		if presetsDir == "" {
			usr, err := user.Current()
			if err != nil {
				// Lambda sandboxes have no passwd entry
				logrus.Debugf("no presets: %v", err)
				return
			}

			if usr.Uid == "0" {
				presetsDir = path.Join("/etc", "shelvery", "presets")
			} else {
				presetsDir = path.Join(usr.HomeDir, ".config", "shelvery", "presets")
			}
		}

		presets, err = shelvery.ReadPresets(presetsDir)
		if err != nil {
			logrus.Fatal(err)
		}
	})

	rootCmd.PersistentFlags().StringVarP(&presetsDir, "presets-dir", "p", "", "path to presets directory")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "", os.Getenv("LOG_LEVEL"), "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&logFormat, "log-format", "", "", "log format (text, json)")
	rootCmd.PersistentFlags().StringArrayVarP(&configLines, "config", "o", nil, "configuration option line (key=value,@list=item,preset=name)")
	rootCmd.AddCommand(cmdCreate, cmdClean, cmdPull, cmdRun, cmdLambda, cmdWorker, cmdList, cmdPreset, cmdContainer, cmdKey, cmdProxy, cmdVersion)
}

// Evaluate every --config line, in order
func evalConfig() (*shelvery.Options, error) {
	var kvs []shelvery.KeyValuePair
	for _, line := range configLines {
		kvs = append(kvs, shelvery.SplitOptions(line)...)
	}
	return shelvery.EvalOptions(kvs, presets)
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		logrus.Fatal(err)
	}
}
