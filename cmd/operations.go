package cmd

import (
	"github.com/sloonz/shelvery/lib"

	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Run a top-level operation for one resource kind, with continuations
// executed by the local worker pool
func runTopLevel(cmd *cobra.Command, kind string, op shelvery.Operation) {
	b := newFlagsEngineBuilder(cmd.Context()).
		WithKind(kind).
		Local().
		FatalOnError()

	err := b.Run(shelvery.NewContinuation(b.Kind, op, shelvery.Arguments{}, b.Config.Payload()))
	if err != nil {
		logrus.Fatal(err)
	}
}

var cmdCreate = &cobra.Command{
	Use:   "create <kind>",
	Short: "Create backups of every tagged resource",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runTopLevel(cmd, args[0], shelvery.OpCreateBackups)
	},
}

var cmdClean = &cobra.Command{
	Use:   "clean <kind>",
	Short: "Delete backups past their retention",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runTopLevel(cmd, args[0], shelvery.OpCleanBackups)
	},
}

var cmdPull = &cobra.Command{
	Use:   "pull <kind>",
	Short: "Copy backups shared by source accounts into this account",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runTopLevel(cmd, args[0], shelvery.OpPullSharedBackups)
	},
}

var cmdRun = &cobra.Command{
	Use:   "run [payload-file]",
	Short: "Run a continuation payload (if omitted: stdin)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		var data []byte
		if len(args) == 0 || args[0] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			logrus.Fatal(err)
		}

		c, err := shelvery.ParseContinuation(data)
		if err != nil {
			logrus.Fatal(err)
		}

		b := newFlagsEngineBuilder(cmd.Context()).
			WithPayload(c.Config).
			WithKind(string(c.Kind)).
			Local().
			FatalOnError()

		if err = b.Run(c); err != nil {
			logrus.Fatal(err)
		}
	},
}
