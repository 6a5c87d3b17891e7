package cmd

import (
	"github.com/sloonz/shelvery/lib"
	"github.com/sloonz/shelvery/metadata"

	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cmdListBackups = &cobra.Command{
	Use:   "backups <kind>",
	Short: "List shelvery-managed backups, with their expiry date",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		b := newFlagsEngineBuilder(cmd.Context()).
			WithKind(args[0]).
			WithAWS().
			WithDriver().
			FatalOnError()

		backups, err := b.Driver.ExistingBackups(cmd.Context(), b.Config.TagPrefix())
		if err != nil {
			logrus.Fatal(err)
		}

		now := time.Now().UTC()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tBACKUP ID\tENTITY\tRETENTION\tCREATED\tEXPIRES\tSTALE")
		for _, r := range backups {
			policy := b.Config.RetentionPolicy(r.Tags)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%v\n",
				r.Name, r.BackupID, r.EntityID, r.RetentionType,
				r.DateCreated.Format(shelvery.TimestampFormat),
				policy.ExpireDate(r, now).Format(shelvery.TimestampFormat),
				policy.IsStale(r, now))
		}
		_ = w.Flush()
	},
}

var listMetadataSharedWith string
var listMetadataRemoved bool
var cmdListMetadata = &cobra.Command{
	Use:   "metadata <kind>",
	Short: "List metadata documents of the local account and region",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		b := newFlagsEngineBuilder(ctx).
			WithKind(args[0]).
			WithAWS().
			WithAccount().
			WithMetadata().
			FatalOnError()

		opener, err := metadata.NewOpener(b.Backend, b.Config, b.Kind)
		if err != nil {
			logrus.Fatal(err)
		}

		store, err := opener.Open(ctx, b.AccountID, b.AWS.Region, false)
		if err != nil {
			logrus.Fatal(err)
		}

		ns := metadata.Active(b.Kind)
		if listMetadataSharedWith != "" {
			ns = metadata.SharedWith(listMetadataSharedWith, b.Kind)
		} else if listMetadataRemoved {
			ns = metadata.Removed(b.Kind)
		}

		keys, err := store.List(ctx, ns)
		if err != nil {
			logrus.Fatal(err)
		}

		for _, key := range keys {
			r, err := store.Get(ctx, key)
			if err != nil {
				logrus.Warnf("%s: %v", key, err)
				continue
			}
			fmt.Printf("%s %s %s\n", r.Name, r.BackupID, r.Region)
		}
	},
}

var cmdList = &cobra.Command{
	Use: "list",
}

func init() {
	cmdListMetadata.Flags().StringVarP(&listMetadataSharedWith, "shared-with", "s", "", "list documents shared with this account")
	cmdListMetadata.Flags().BoolVarP(&listMetadataRemoved, "removed", "r", false, "list documents of deleted backups")
	cmdList.AddCommand(cmdListBackups, cmdListMetadata)
}
