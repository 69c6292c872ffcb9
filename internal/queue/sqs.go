package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

// SQSConfig параметры подключения к SQS
type SQSConfig struct {
	QueueName         string
	DeadLetterName    string
	Region            string
	Endpoint          string // непустой для LocalStack
	AccessKey         string
	SecretKey         string
	VisibilityTimeout time.Duration
	MaxReceiveCount   int
}

// sqsAPI подмножество клиента SQS, используемое шлюзом; выделено в
// интерфейс ради тестов
type sqsAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	SetQueueAttributes(ctx context.Context, params *sqs.SetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSGateway реализация Gateway поверх AWS SQS
type SQSGateway struct {
	api      sqsAPI
	cfg      SQSConfig
	queueURL string
	dlqURL   string
	log      zerolog.Logger
}

// NewSQSGateway создаёт шлюз и приводит очереди в рабочее состояние:
// основная очередь и DLQ создаются, если отсутствуют, redrive-политика
// настраивается на DLQ
func NewSQSGateway(ctx context.Context, cfg SQSConfig, log zerolog.Logger) (*SQSGateway, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &PermanentError{Op: "load config", Err: err}
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	g := &SQSGateway{api: client, cfg: cfg, log: log}
	if err := g.ensureQueues(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *SQSGateway) ensureQueues(ctx context.Context) error {
	dlqURL, err := g.getOrCreateQueue(ctx, g.cfg.DeadLetterName, nil)
	if err != nil {
		return err
	}
	g.dlqURL = dlqURL

	dlqARN, err := g.queueARN(ctx, dlqURL)
	if err != nil {
		return err
	}

	redrive, err := json.Marshal(map[string]any{
		"deadLetterTargetArn": dlqARN,
		"maxReceiveCount":     g.cfg.MaxReceiveCount,
	})
	if err != nil {
		return &PermanentError{Op: "marshal redrive policy", Err: err}
	}

	attrs := map[string]string{
		string(types.QueueAttributeNameVisibilityTimeout): strconv.Itoa(int(g.cfg.VisibilityTimeout.Seconds())),
		string(types.QueueAttributeNameRedrivePolicy):     string(redrive),
	}

	queueURL, err := g.getOrCreateQueue(ctx, g.cfg.QueueName, attrs)
	if err != nil {
		return err
	}
	g.queueURL = queueURL

	// Если очередь уже существовала без redrive-политики, настраиваем её
	if err := g.configureRedrive(ctx, attrs); err != nil {
		g.log.Warn().Err(err).Msg("could not configure queue redrive policy")
	}

	g.log.Info().
		Str("queue_url", g.queueURL).
		Str("dlq_url", g.dlqURL).
		Int("max_receive_count", g.cfg.MaxReceiveCount).
		Msg("queues ready")
	return nil
}

func (g *SQSGateway) getOrCreateQueue(ctx context.Context, name string, attrs map[string]string) (string, error) {
	out, err := g.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err == nil {
		return aws.ToString(out.QueueUrl), nil
	}

	var notFound *types.QueueDoesNotExist
	if !errors.As(err, &notFound) {
		return "", classify("get queue url", err)
	}

	g.log.Info().Str("queue", name).Msg("queue not found, creating")
	created, err := g.api.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(name),
		Attributes: attrs,
	})
	if err != nil {
		return "", classify("create queue", err)
	}
	return aws.ToString(created.QueueUrl), nil
}

func (g *SQSGateway) queueARN(ctx context.Context, queueURL string) (string, error) {
	out, err := g.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", classify("get queue attributes", err)
	}
	arn, ok := out.Attributes[string(types.QueueAttributeNameQueueArn)]
	if !ok {
		return "", &PermanentError{Op: "get queue attributes", Err: fmt.Errorf("queue %s has no ARN attribute", queueURL)}
	}
	return arn, nil
}

func (g *SQSGateway) configureRedrive(ctx context.Context, attrs map[string]string) error {
	out, err := g.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(g.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameRedrivePolicy},
	})
	if err != nil {
		return classify("get queue attributes", err)
	}
	if _, ok := out.Attributes[string(types.QueueAttributeNameRedrivePolicy)]; ok {
		return nil
	}

	_, err = g.api.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl:   aws.String(g.queueURL),
		Attributes: attrs,
	})
	if err != nil {
		return classify("set queue attributes", err)
	}
	return nil
}

func (g *SQSGateway) ReceiveBatch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max > 10 {
		max = 10 // лимит SQS на один запрос
	}

	out, err := g.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(g.queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     int32(wait.Seconds()),
		VisibilityTimeout:   int32(g.cfg.VisibilityTimeout.Seconds()),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		return nil, classify("receive", err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := Message{
			ID:            aws.ToString(m.MessageId),
			Body:          []byte(aws.ToString(m.Body)),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			ReceiveCount:  1,
		}
		if rc, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
			msg.ReceiveCount = rc
		}
		if ms, err := strconv.ParseInt(m.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)], 10, 64); err == nil {
			msg.SentAt = time.UnixMilli(ms)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (g *SQSGateway) Delete(ctx context.Context, msg Message) error {
	_, err := g.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(g.queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		// Повторное удаление по просроченному токену - не ошибка
		var invalid *types.ReceiptHandleIsInvalid
		if errors.As(err, &invalid) {
			return nil
		}
		return classify("delete", err)
	}
	return nil
}

func (g *SQSGateway) ExtendVisibility(ctx context.Context, msg Message, timeout time.Duration) error {
	_, err := g.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(g.queueURL),
		ReceiptHandle:     aws.String(msg.ReceiptHandle),
		VisibilityTimeout: int32(timeout.Seconds()),
	})
	if err != nil {
		return classify("change visibility", err)
	}
	return nil
}

func (g *SQSGateway) MoveToDeadLetter(ctx context.Context, msg Message) error {
	// Сначала публикация в DLQ; удаление из исходной очереди только после
	// успешной публикации, иначе сообщение было бы потеряно
	_, err := g.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(g.dlqURL),
		MessageBody: aws.String(string(msg.Body)),
	})
	if err != nil {
		return classify("dead-letter send", err)
	}
	return g.Delete(ctx, msg)
}

func (g *SQSGateway) Send(ctx context.Context, body []byte) error {
	_, err := g.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(g.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return classify("send", err)
	}
	return nil
}

func (g *SQSGateway) Close() error { return nil }

// classify делит ошибки SQS на временные и неустранимые
func classify(op string, err error) error {
	var notFound *types.QueueDoesNotExist
	if errors.As(err, &notFound) {
		return &PermanentError{Op: op, Err: err}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AWS.SimpleQueueService.NonExistentQueue", "InvalidAddress", "AccessDenied":
			return &PermanentError{Op: op, Err: err}
		}
	}
	return &TransientError{Op: op, Err: err}
}
