package shelvery

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"filippo.io/age"
	"github.com/sirupsen/logrus"
)

// Sort records from most recent to least recent
func SortRecords(records []*BackupRecord) {
	sort.SliceStable(records, func(a, b int) bool {
		return records[a].DateCreated.After(records[b].DateCreated)
	})
}

// Keep only records of the given entity. An empty entity id keeps everything.
func FilterByEntity(records []*BackupRecord, entityID string) []*BackupRecord {
	if entityID == "" {
		return records
	}
	res := make([]*BackupRecord, 0, len(records))
	for _, r := range records {
		if r.EntityID == entityID {
			res = append(res, r)
		}
	}
	return res
}

// Load a private key either from a file (if keyFile argument is provided), or from its content (key argument)
func LoadIdentities(keyFile, key string) ([]age.Identity, error) {
	if keyFile != "" && key != "" {
		return nil, fmt.Errorf("must provide one of key file or key, not both")
	}

	if keyFile != "" {
		keyData, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, err
		}

		key = string(keyData)
	}

	return age.ParseIdentities(bytes.NewBufferString(key))
}

// Load a public key either from a file (if keyFile argument is provided), or from its content (key argument)
func LoadRecipients(keyFile, key string) ([]age.Recipient, error) {
	if keyFile != "" && key != "" {
		return nil, fmt.Errorf("must provide one of key file or key, not both")
	}

	if keyFile != "" {
		keyData, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, err
		}

		key = string(keyData)
	}

	return age.ParseRecipients(bytes.NewBufferString(key))
}

func BuildCommand(command []string, additionalArgs ...string) *exec.Cmd {
	return BuildCommandContext(context.Background(), command, additionalArgs...)
}

// Same as BuildCommand, the process is killed when ctx is done
func BuildCommandContext(ctx context.Context, command []string, additionalArgs ...string) *exec.Cmd {
	fullArgs := append(append([]string{}, command...), additionalArgs...)
	cmd := exec.CommandContext(ctx, fullArgs[0], fullArgs[1:]...)
	cmd.Stdout = os.Stderr // default stdout to stderr because we don't want other processes to output stuff on our output
	cmd.Stderr = os.Stderr
	return cmd
}

func StartCommand(log *logrus.Entry, cmd *exec.Cmd) error {
	log.Debugf("starting: %s", cmd.String())
	return cmd.Start()
}
