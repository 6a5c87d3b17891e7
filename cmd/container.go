package cmd

import (
	"github.com/sloonz/shelvery/container"
	"github.com/sloonz/shelvery/lib"

	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func openInput(args []string, i int) io.ReadCloser {
	if len(args) <= i || args[i] == "-" {
		return io.NopCloser(os.Stdin)
	}

	f, err := os.Open(args[i])
	if err != nil {
		logrus.Fatal(err)
	}
	return f
}

func openOutput(args []string, i int) io.WriteCloser {
	if len(args) <= i || args[i] == "-" {
		return os.Stdout
	}

	f, err := os.OpenFile(args[i], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		logrus.Fatal(err)
	}
	return f
}

var cmdContainerType = &cobra.Command{
	Use:   "type [file]",
	Short: "Prints the resource kind of an enveloped metadata document (if omitted: stdin)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		in := openInput(args, 0)
		defer in.Close()

		r, err := container.NewReader(in)
		if err != nil {
			logrus.Fatal(err)
		}

		if r.IsPlain() {
			fmt.Printf("%s (plain)\n", r.Kind())
		} else {
			fmt.Printf("%s\n", r.Kind())
		}
	},
}

var cmdContainerExtractKeyFile string
var cmdContainerExtractKey string
var cmdContainerExtract = &cobra.Command{
	Use:   "extract [input-file] [output-file]",
	Args:  cobra.MaximumNArgs(2),
	Short: "Print the decrypted and decompressed content of a metadata document",
	Run: func(cmd *cobra.Command, args []string) {
		in := openInput(args, 0)
		defer in.Close()

		out := openOutput(args, 1)
		defer out.Close()

		r, err := container.NewReader(in)
		if err != nil {
			logrus.Fatal(err)
		}

		var identities []age.Identity
		if !r.IsPlain() {
			identities, err = shelvery.LoadIdentities(cmdContainerExtractKeyFile, cmdContainerExtractKey)
			if err != nil {
				logrus.Fatal(err)
			}
		}

		err = r.Unseal(identities)
		if err != nil {
			logrus.Fatal(err)
		}

		_, err = io.Copy(out, r)
		if err != nil {
			logrus.Fatal(err)
		}
	},
}

var cmdContainerCreateCompressionLevel int
var cmdContainerCreateKeyFile string
var cmdContainerCreateKey string
var cmdContainerCreate = &cobra.Command{
	Use:   "create <kind> [input-file] [output-file]",
	Args:  cobra.RangeArgs(1, 3),
	Short: "Envelope a metadata document",
	Run: func(cmd *cobra.Command, args []string) {
		in := openInput(args, 1)
		defer in.Close()

		out := openOutput(args, 2)
		defer out.Close()

		var recipients []age.Recipient
		var err error
		if cmdContainerCreateKeyFile != "" || cmdContainerCreateKey != "" {
			recipients, err = shelvery.LoadRecipients(cmdContainerCreateKeyFile, cmdContainerCreateKey)
			if err != nil {
				logrus.Fatal(err)
			}
		}

		w, err := container.NewWriter(out, recipients, args[0], cmdContainerCreateCompressionLevel)
		if err != nil {
			logrus.Fatal(err)
		}

		_, err = io.Copy(w, in)
		if err != nil {
			logrus.Fatal(err)
		}

		err = w.Close()
		if err != nil {
			logrus.Fatal(err)
		}
	},
}

var cmdContainer = &cobra.Command{
	Use:   "container",
	Short: "Directly manipulate enveloped metadata documents",
}

func init() {
	cmdContainer.AddCommand(cmdContainerType, cmdContainerExtract, cmdContainerCreate)
	cmdContainerExtract.Flags().StringVarP(&cmdContainerExtractKeyFile, "key-file", "k", "", "private key file for decryption")
	cmdContainerExtract.Flags().StringVarP(&cmdContainerExtractKey, "key", "K", "", "private key for decryption")
	cmdContainerCreate.Flags().StringVarP(&cmdContainerCreateKeyFile, "key-file", "k", "", "public key file for encryption")
	cmdContainerCreate.Flags().StringVarP(&cmdContainerCreateKey, "key", "K", "", "public key for encryption")
	cmdContainerCreate.Flags().IntVarP(&cmdContainerCreateCompressionLevel, "compression-level", "z", 3, "compression level")
}
