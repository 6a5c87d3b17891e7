package notify

import (
	"github.com/sloonz/shelvery/lib"

	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/sirupsen/logrus"
)

var (
	notifyLog = logrus.WithFields(logrus.Fields{
		"component": "notify",
	})
)

type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publishes events to an SNS topic. Error events go to ErrorTopic when set.
type SNS struct {
	client     SNSAPI
	Topic      string
	ErrorTopic string
	Now        func() time.Time
}

func NewSNS(client SNSAPI, topic, errorTopic string) *SNS {
	return &SNS{client: client, Topic: topic, ErrorTopic: errorTopic, Now: time.Now}
}

// Part of shelvery.Notifier interface
func (n *SNS) Publish(ctx context.Context, event shelvery.Event) {
	event = event.Stamped(n.Now())

	topic := n.Topic
	if event.IsError() && n.ErrorTopic != "" {
		topic = n.ErrorTopic
	}

	log := notifyLog.WithFields(logrus.Fields{"topic": topic, "operation": event.Operation})
	if !strings.HasPrefix(topic, "arn:aws:sns") {
		log.Debug("no topic configured, not publishing")
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Warnf("cannot encode event: %v", err)
		return
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topic),
		Message:  aws.String(string(body)),
	})
	if err != nil {
		log.Warnf("cannot publish event: %v", err)
	}
}

// Logs events
type Log struct{}

// Part of shelvery.Notifier interface
func (Log) Publish(ctx context.Context, event shelvery.Event) {
	log := notifyLog.WithFields(logrus.Fields{
		"operation": event.Operation,
		"status":    event.Status,
		"kind":      event.BackupType,
	})
	if event.BackupName != "" {
		log = log.WithField("backup", event.BackupName)
	}
	if event.EntityID != "" {
		log = log.WithField("entity", event.EntityID)
	}

	if event.IsError() {
		log.Errorf("%s: %s", event.Message, event.ExceptionInfo)
	} else {
		log.Info(event.Message)
	}
}

// Publishes every event to each notifier
type Fanout []shelvery.Notifier

// Part of shelvery.Notifier interface
func (f Fanout) Publish(ctx context.Context, event shelvery.Event) {
	for _, n := range f {
		n.Publish(ctx, event)
	}
}
