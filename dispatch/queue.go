package dispatch

import (
	"github.com/sloonz/shelvery/lib"

	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/sirupsen/logrus"
)

// Longest delivery delay accepted by SQS
const MaxQueueDelay = 900 * time.Second

var (
	queueLog = logrus.WithFields(logrus.Fields{
		"dispatcher": "queue",
	})
)

type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Enqueues continuations with a delivery delay, for a Consumer to run later
type Queue struct {
	client SQSAPI
	URL    string
	Delay  time.Duration
}

func NewQueue(client SQSAPI, url string, delay time.Duration) *Queue {
	return &Queue{client: client, URL: url, Delay: delay}
}

// Part of shelvery.Dispatcher interface
func (q *Queue) Mode() shelvery.DispatchMode {
	return shelvery.DispatchQueue
}

// Part of shelvery.Dispatcher interface
func (q *Queue) Dispatch(ctx context.Context, c shelvery.Continuation) error {
	c.StartedInternally = true
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}

	delay := min(max(q.Delay, 0), MaxQueueDelay)
	queueLog.WithFields(logrus.Fields{"operation": c.Operation, "id": c.ID, "delay": delay}).Debug("enqueuing")
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.URL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay / time.Second),
	})
	if err != nil {
		return fmt.Errorf("cannot enqueue %s: %w", c.Operation, err)
	}
	return nil
}

// Long-polls a queue and runs every received continuation
type Consumer struct {
	client   SQSAPI
	URL      string
	Runner   shelvery.Runner
	WaitTime time.Duration
}

func NewConsumer(client SQSAPI, url string, runner shelvery.Runner) *Consumer {
	return &Consumer{client: client, URL: url, Runner: runner, WaitTime: 20 * time.Second}
}

// Receive and run one batch of messages. Messages are deleted once run,
// whether they succeeded or not: failures are reported by the runner.
// Unparseable messages are deleted too.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.URL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     int32(c.WaitTime / time.Second),
	})
	if err != nil {
		return 0, fmt.Errorf("cannot receive messages: %w", err)
	}

	for _, msg := range out.Messages {
		log := queueLog.WithFields(logrus.Fields{"message": aws.ToString(msg.MessageId)})

		cont, err := shelvery.ParseContinuation([]byte(aws.ToString(msg.Body)))
		if err != nil {
			log.Errorf("dropping invalid message: %v", err)
		} else if err = c.Runner.Run(ctx, cont); err != nil {
			log.WithFields(logrus.Fields{"operation": cont.Operation}).Warnf("continuation failed: %v", err)
		}

		_, err = c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.URL),
			ReceiptHandle: msg.ReceiptHandle,
		})
		if err != nil {
			log.Warnf("cannot delete message: %v", err)
		}
	}

	return len(out.Messages), nil
}

// Poll until ctx is done
func (c *Consumer) Run(ctx context.Context) error {
	for {
		_, err := c.Poll(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			queueLog.Warn(err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
		}
	}
}
