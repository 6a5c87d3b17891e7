package cmd

import (
	"github.com/sloonz/shelvery/lib"

	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var lambdaLog = logrus.WithFields(logrus.Fields{
	"component": "lambda",
})

type lambdaResult struct {
	ID        string `json:"id"`
	Kind      string `json:"backup_type"`
	Operation string `json:"action"`
	Status    string `json:"status"`
}

// Continuations may arrive wrapped in an SNS notification
func unwrapPayload(raw json.RawMessage) ([]byte, error) {
	var probe struct {
		Records []json.RawMessage `json:"Records"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || len(probe.Records) == 0 {
		return raw, nil
	}

	var event events.SNSEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("cannot parse SNS event: %w", err)
	}
	if event.Records[0].SNS.Message == "" {
		return nil, fmt.Errorf("empty SNS message")
	}
	return []byte(event.Records[0].SNS.Message), nil
}

func handleLambda(ctx context.Context, raw json.RawMessage) (*lambdaResult, error) {
	data, err := unwrapPayload(raw)
	if err != nil {
		return nil, err
	}

	c, err := shelvery.ParseContinuation(data)
	if err != nil {
		return nil, err
	}

	lambdaLog.WithFields(logrus.Fields{
		"id":        c.ID,
		"kind":      c.Kind,
		"operation": c.Operation,
		"iteration": c.Arguments.Iteration,
	}).Info("handling continuation")

	b := newFlagsEngineBuilder(ctx).
		WithPayload(c.Config).
		WithKind(string(c.Kind)).
		WithAWS().
		WithAccount().
		WithDriver().
		WithMetadata().
		WithNotifier()
	if b.Error == nil && b.Config.Bool(shelvery.KeyMonoThread, nil) {
		b.WithWorkerPool()
	} else {
		b.WithInvoker(lambdacontext.FunctionName)
	}
	b.WithEngine()

	if err = b.Run(c); err != nil {
		return nil, err
	}
	return &lambdaResult{ID: c.ID, Kind: string(c.Kind), Operation: string(c.Operation), Status: "OK"}, nil
}

var cmdLambda = &cobra.Command{
	Use:   "lambda",
	Short: "Serve continuations as an AWS Lambda function",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		lambda.Start(handleLambda)
	},
}
