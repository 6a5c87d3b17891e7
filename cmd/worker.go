package cmd

import (
	"github.com/sloonz/shelvery/awsutil"
	"github.com/sloonz/shelvery/dispatch"
	"github.com/sloonz/shelvery/lib"
	"github.com/sloonz/shelvery/metrics"

	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	workerQueueURL    string
	workerMetricsAddr string
	workerRegion      string
)

// Each message gets its own engine, configured from its payload
func runQueued(ctx context.Context, c shelvery.Continuation) error {
	b := newFlagsEngineBuilder(ctx).WithPayload(c.Config)
	b.Resolver.Defaults[shelvery.KeySQSQueueURL] = workerQueueURL
	return b.WithKind(string(c.Kind)).Local().Run(c)
}

var cmdWorker = &cobra.Command{
	Use:   "worker",
	Short: "Consume continuations from an SQS queue",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if workerQueueURL == "" {
			logrus.Fatal("missing queue URL")
		}

		awsCfg, err := awsutil.LoadConfig(ctx, awsutil.Options{Region: workerRegion})
		if err != nil {
			logrus.Fatal(err)
		}

		if workerMetricsAddr != "" {
			server := metrics.NewServer(workerMetricsAddr)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logrus.Errorf("metrics server: %v", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()
		}

		consumer := dispatch.NewConsumer(sqs.NewFromConfig(awsCfg), workerQueueURL, shelvery.RunnerFunc(runQueued))
		logrus.WithFields(logrus.Fields{"queue": workerQueueURL}).Info("worker started")
		if err = consumer.Run(ctx); err != nil {
			logrus.Error(err)
		}
		logrus.Info("worker stopped")
	},
}

func init() {
	cmdWorker.Flags().StringVarP(&workerQueueURL, "queue-url", "q", "", "URL of the SQS queue to consume")
	cmdWorker.Flags().StringVarP(&workerMetricsAddr, "metrics-addr", "m", "", "listen address of the metrics endpoint (disabled if empty)")
	cmdWorker.Flags().StringVarP(&workerRegion, "region", "r", "", "AWS region of the queue")
}
