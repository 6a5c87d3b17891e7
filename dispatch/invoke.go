package dispatch

import (
	"github.com/sloonz/shelvery/lib"

	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/sirupsen/logrus"
)

var (
	invokeLog = logrus.WithFields(logrus.Fields{
		"dispatcher": "invoke",
	})
)

type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Starts a fresh asynchronous execution of a Lambda function per continuation
type Invoker struct {
	client       LambdaAPI
	FunctionName string
}

func NewInvoker(client LambdaAPI, functionName string) *Invoker {
	return &Invoker{client: client, FunctionName: functionName}
}

// Part of shelvery.Dispatcher interface
func (i *Invoker) Mode() shelvery.DispatchMode {
	return shelvery.DispatchInvoke
}

// Part of shelvery.Dispatcher interface
func (i *Invoker) Dispatch(ctx context.Context, c shelvery.Continuation) error {
	c.StartedInternally = true
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}

	invokeLog.WithFields(logrus.Fields{"function": i.FunctionName, "operation": c.Operation, "id": c.ID}).Debug("invoking")
	_, err = i.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(i.FunctionName),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("cannot invoke %s: %w", i.FunctionName, err)
	}
	return nil
}
