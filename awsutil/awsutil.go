package awsutil

import (
	"github.com/sloonz/shelvery/lib"

	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
)

var (
	awsLog = logrus.WithFields(logrus.Fields{
		"component": "aws",
	})
)

type Options struct {
	Region     string
	RoleARN    string
	ExternalID string
}

// Load the default AWS configuration. When a role is given, credentials are
// obtained by assuming it.
func LoadConfig(ctx context.Context, opts Options) (aws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("cannot load AWS configuration: %w", err)
	}

	if opts.RoleARN != "" {
		awsLog.WithFields(logrus.Fields{"role": opts.RoleARN}).Debug("assuming role")
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), opts.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "shelvery"
			if opts.ExternalID != "" {
				o.ExternalID = aws.String(opts.ExternalID)
			}
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}

	return cfg, nil
}

type CallerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Account owning the current credentials
func LocalAccountID(ctx context.Context, client CallerIdentityAPI) (string, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("cannot get caller identity: %w", err)
	}
	return aws.ToString(out.Account), nil
}

// Provider error code of err, if any
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// Bucket policy document. The owner has full access; every shared account can
// read the bucket and manage its own handoff namespace.
func BucketPolicy(bucket string, policy shelvery.BucketPolicy) (string, error) {
	statements := []map[string]any{
		{
			"Sid":       "AllowOwner",
			"Effect":    "Allow",
			"Principal": map[string]any{"AWS": fmt.Sprintf("arn:aws:iam::%s:root", policy.OwnerAccount)},
			"Action":    "s3:*",
			"Resource": []string{
				fmt.Sprintf("arn:aws:s3:::%s", bucket),
				fmt.Sprintf("arn:aws:s3:::%s/*", bucket),
			},
		},
	}

	for _, account := range policy.SharedAccounts {
		principal := map[string]any{"AWS": fmt.Sprintf("arn:aws:iam::%s:root", account)}
		statements = append(statements,
			map[string]any{
				"Sid":       "AllowRead" + account,
				"Effect":    "Allow",
				"Principal": principal,
				"Action":    []string{"s3:Get*", "s3:List*"},
				"Resource":  fmt.Sprintf("arn:aws:s3:::%s", bucket),
			},
			map[string]any{
				"Sid":       "AllowShared" + account,
				"Effect":    "Allow",
				"Principal": principal,
				"Action":    "s3:*",
				"Resource":  fmt.Sprintf("arn:aws:s3:::%s/%s*", bucket, path.Join(policy.SharedPrefix, "shared", account)),
			},
		)
	}

	doc, err := json.Marshal(map[string]any{
		"Version":   "2012-10-17",
		"Id":        "shelvery-metadata-bucket-policy",
		"Statement": statements,
	})
	if err != nil {
		return "", fmt.Errorf("cannot marshal bucket policy: %w", err)
	}
	return string(doc), nil
}
