package cmd

import (
	"github.com/sloonz/shelvery/awsutil"
	"github.com/sloonz/shelvery/dispatch"
	"github.com/sloonz/shelvery/drivers"
	"github.com/sloonz/shelvery/engine"
	"github.com/sloonz/shelvery/lib"
	"github.com/sloonz/shelvery/notify"
	"github.com/sloonz/shelvery/stores"

	"context"
	"fmt"
	"maps"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/sirupsen/logrus"
)

// Assembles an engine step by step; the first failing step wins
type engineBuilder struct {
	ctx        context.Context
	Payload    map[string]string
	Resolver   *shelvery.Resolver
	Kind       shelvery.ResourceKind
	Config     *shelvery.Config
	AWS        aws.Config
	AccountID  string
	Driver     shelvery.Driver
	Backend    shelvery.BlobBackend
	Notifier   shelvery.Notifier
	Pool       *dispatch.Pool
	Dispatcher shelvery.Dispatcher
	Engine     *engine.Engine
	Error      error
}

func newEngineBuilder(ctx context.Context, options *shelvery.Options, err error) *engineBuilder {
	b := &engineBuilder{ctx: ctx, Resolver: shelvery.NewResolver(), Error: err}
	if options != nil {
		b.Payload = options.ConfigMap()
	}
	return b
}

// Builder fed with the --config option lines
func newFlagsEngineBuilder(ctx context.Context) *engineBuilder {
	options, err := evalConfig()
	return newEngineBuilder(ctx, options, err)
}

// Merge a continuation payload over the configured options
func (b *engineBuilder) WithPayload(payload map[string]string) *engineBuilder {
	if b.Payload == nil {
		b.Payload = make(map[string]string)
	}
	maps.Copy(b.Payload, payload)
	return b
}

func (b *engineBuilder) WithKind(kind string) *engineBuilder {
	if b.Error == nil {
		b.Kind, b.Error = shelvery.ParseResourceKind(kind)
		b.Config = b.Resolver.Bind(b.Payload)
	}
	return b
}

func (b *engineBuilder) WithAWS() *engineBuilder {
	if b.Error == nil {
		b.AWS, b.Error = awsutil.LoadConfig(b.ctx, awsutil.Options{
			Region:     b.Config.String(shelvery.KeyAWSRegion, nil),
			RoleARN:    b.Config.String(shelvery.KeyRoleARN, nil),
			ExternalID: b.Config.String(shelvery.KeyRoleExternalID, nil),
		})
	}
	return b
}

func (b *engineBuilder) WithAccount() *engineBuilder {
	if b.Error == nil {
		b.AccountID = b.Config.String(shelvery.KeyAccountID, nil)
		if b.AccountID == "" {
			b.AccountID, b.Error = awsutil.LocalAccountID(b.ctx, sts.NewFromConfig(b.AWS))
		}
	}
	return b
}

func (b *engineBuilder) WithDriver() *engineBuilder {
	if b.Error == nil {
		b.Driver, b.Error = drivers.New(b.Kind, b.Config, b.AWS)
	}
	return b
}

func (b *engineBuilder) WithMetadata() *engineBuilder {
	if b.Error == nil {
		b.Backend, b.Error = stores.New(b.Config.String(shelvery.KeyMetadataStore, nil), b.Config.String(shelvery.KeyMetadataStoreURL, nil), b.AWS)
	}
	return b
}

func (b *engineBuilder) WithNotifier() *engineBuilder {
	if b.Error == nil {
		topic := b.Config.String(shelvery.KeySNSTopic, nil)
		errorTopic := b.Config.String(shelvery.KeyErrorSNSTopic, nil)
		if topic == "" && errorTopic == "" {
			b.Notifier = notify.Log{}
		} else {
			b.Notifier = notify.Fanout{notify.Log{}, notify.NewSNS(sns.NewFromConfig(b.AWS), topic, errorTopic)}
		}
	}
	return b
}

// Continuations run in goroutines of this process
func (b *engineBuilder) WithWorkerPool() *engineBuilder {
	if b.Error == nil {
		b.Pool = dispatch.NewPool(b.Config.Int(shelvery.KeyWorkerConcurrency, nil), b.Config.Bool(shelvery.KeyMonoThread, nil))
		b.Dispatcher = b.Pool
	}
	return b
}

// Continuations run in fresh invocations of a Lambda function
func (b *engineBuilder) WithInvoker(functionName string) *engineBuilder {
	if b.Error == nil {
		if functionName == "" {
			b.Error = fmt.Errorf("missing Lambda function name")
			return b
		}
		b.Dispatcher = dispatch.NewInvoker(lambda.NewFromConfig(b.AWS), functionName)
	}
	return b
}

func (b *engineBuilder) WithEngine() *engineBuilder {
	if b.Error == nil {
		b.Engine = engine.New(b.Driver, b.Config, b.Backend, b.Notifier, b.Dispatcher)
		b.Engine.AccountID = b.AccountID
		b.Engine.Region = b.AWS.Region
		b.Engine.SQS = sqs.NewFromConfig(b.AWS)
		if b.Pool != nil {
			b.Pool.Runner = b.Engine
		}
	}
	return b
}

// Everything needed to run operations in this process
func (b *engineBuilder) Local() *engineBuilder {
	return b.WithAWS().WithAccount().WithDriver().WithMetadata().WithNotifier().WithWorkerPool().WithEngine()
}

func (b *engineBuilder) FatalOnError() *engineBuilder {
	if b.Error != nil {
		logrus.Fatal(b.Error)
	}
	return b
}

// Run a continuation, then wait for everything it dispatched in-process
func (b *engineBuilder) Run(c shelvery.Continuation) error {
	if b.Error != nil {
		return b.Error
	}

	err := b.Engine.Run(b.ctx, c)
	if b.Pool != nil {
		if perr := b.Pool.Wait(); perr != nil {
			if err == nil {
				err = perr
			} else {
				err = fmt.Errorf("%w; %w", err, perr)
			}
		}
	}
	return err
}
