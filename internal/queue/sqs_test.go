package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	getQueueURL       func(*sqs.GetQueueUrlInput) (*sqs.GetQueueUrlOutput, error)
	createQueue       func(*sqs.CreateQueueInput) (*sqs.CreateQueueOutput, error)
	getAttributes     func(*sqs.GetQueueAttributesInput) (*sqs.GetQueueAttributesOutput, error)
	setAttributes     func(*sqs.SetQueueAttributesInput) (*sqs.SetQueueAttributesOutput, error)
	receiveMessage    func(*sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error)
	deleteMessage     func(*sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error)
	sendMessage       func(*sqs.SendMessageInput) (*sqs.SendMessageOutput, error)
	changeVisibility func(*sqs.ChangeMessageVisibilityInput) (*sqs.ChangeMessageVisibilityOutput, error)
}

func (f *fakeSQS) GetQueueUrl(_ context.Context, p *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	return f.getQueueURL(p)
}

func (f *fakeSQS) CreateQueue(_ context.Context, p *sqs.CreateQueueInput, _ ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	return f.createQueue(p)
}

func (f *fakeSQS) GetQueueAttributes(_ context.Context, p *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return f.getAttributes(p)
}

func (f *fakeSQS) SetQueueAttributes(_ context.Context, p *sqs.SetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error) {
	return f.setAttributes(p)
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, p *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return f.receiveMessage(p)
}

func (f *fakeSQS) DeleteMessage(_ context.Context, p *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return f.deleteMessage(p)
}

func (f *fakeSQS) SendMessage(_ context.Context, p *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	return f.sendMessage(p)
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, p *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	return f.changeVisibility(p)
}

func testGateway(api sqsAPI) *SQSGateway {
	return &SQSGateway{
		api: api,
		cfg: SQSConfig{
			QueueName:         "events",
			DeadLetterName:    "events-dlq",
			VisibilityTimeout: 5 * time.Minute,
			MaxReceiveCount:   3,
		},
		queueURL: "http://sqs/events",
		dlqURL:   "http://sqs/events-dlq",
		log:      zerolog.Nop(),
	}
}

func TestSQSGateway_EnsureQueuesCreatesMissing(t *testing.T) {
	existing := map[string]string{}
	var createdAttrs map[string]map[string]string

	fake := &fakeSQS{
		getQueueURL: func(p *sqs.GetQueueUrlInput) (*sqs.GetQueueUrlOutput, error) {
			if url, ok := existing[aws.ToString(p.QueueName)]; ok {
				return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(url)}, nil
			}
			return nil, &types.QueueDoesNotExist{}
		},
		createQueue: func(p *sqs.CreateQueueInput) (*sqs.CreateQueueOutput, error) {
			name := aws.ToString(p.QueueName)
			url := "http://sqs/" + name
			existing[name] = url
			if createdAttrs == nil {
				createdAttrs = map[string]map[string]string{}
			}
			createdAttrs[name] = p.Attributes
			return &sqs.CreateQueueOutput{QueueUrl: aws.String(url)}, nil
		},
		getAttributes: func(p *sqs.GetQueueAttributesInput) (*sqs.GetQueueAttributesOutput, error) {
			return &sqs.GetQueueAttributesOutput{Attributes: map[string]string{
				string(types.QueueAttributeNameQueueArn):      "arn:aws:sqs:us-east-1:000000000000:events-dlq",
				string(types.QueueAttributeNameRedrivePolicy): "{}",
			}}, nil
		},
	}

	g := testGateway(fake)
	require.NoError(t, g.ensureQueues(context.Background()))

	assert.Equal(t, "http://sqs/events", g.queueURL)
	assert.Equal(t, "http://sqs/events-dlq", g.dlqURL)

	// Основная очередь создана с redrive-политикой на DLQ
	attrs := createdAttrs["events"]
	require.NotNil(t, attrs)
	assert.Contains(t, attrs[string(types.QueueAttributeNameRedrivePolicy)], "arn:aws:sqs:us-east-1:000000000000:events-dlq")
	assert.Contains(t, attrs[string(types.QueueAttributeNameRedrivePolicy)], `"maxReceiveCount":3`)
	assert.Equal(t, "300", attrs[string(types.QueueAttributeNameVisibilityTimeout)])

	// DLQ создаётся без redrive-политики
	assert.Empty(t, createdAttrs["events-dlq"])
}

func TestSQSGateway_ReceiveBatchParsesAttributes(t *testing.T) {
	fake := &fakeSQS{
		receiveMessage: func(p *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
			assert.Equal(t, "http://sqs/events", aws.ToString(p.QueueUrl))
			assert.Equal(t, int32(10), p.MaxNumberOfMessages)
			assert.Equal(t, int32(20), p.WaitTimeSeconds)
			return &sqs.ReceiveMessageOutput{Messages: []types.Message{
				{
					MessageId:     aws.String("m-1"),
					Body:          aws.String(`{"type":"purchase"}`),
					ReceiptHandle: aws.String("rh-1"),
					Attributes: map[string]string{
						string(types.MessageSystemAttributeNameApproximateReceiveCount): "4",
						string(types.MessageSystemAttributeNameSentTimestamp):           "1601978525000",
					},
				},
				{
					MessageId:     aws.String("m-2"),
					Body:          aws.String("{}"),
					ReceiptHandle: aws.String("rh-2"),
				},
			}}, nil
		},
	}

	g := testGateway(fake)
	msgs, err := g.ReceiveBatch(context.Background(), 25, 20*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "m-1", msgs[0].ID)
	assert.Equal(t, 4, msgs[0].ReceiveCount)
	assert.Equal(t, time.UnixMilli(1601978525000), msgs[0].SentAt)
	assert.Equal(t, `{"type":"purchase"}`, string(msgs[0].Body))

	// Без атрибутов счётчик доставок по умолчанию равен единице
	assert.Equal(t, 1, msgs[1].ReceiveCount)
}

func TestSQSGateway_MoveToDeadLetterPublishesBeforeDelete(t *testing.T) {
	var calls []string

	fake := &fakeSQS{
		sendMessage: func(p *sqs.SendMessageInput) (*sqs.SendMessageOutput, error) {
			calls = append(calls, "send:"+aws.ToString(p.QueueUrl))
			return &sqs.SendMessageOutput{}, nil
		},
		deleteMessage: func(p *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
			calls = append(calls, "delete:"+aws.ToString(p.QueueUrl))
			return &sqs.DeleteMessageOutput{}, nil
		},
	}

	g := testGateway(fake)
	msg := Message{ID: "m-1", Body: []byte("poison"), ReceiptHandle: "rh-1"}
	require.NoError(t, g.MoveToDeadLetter(context.Background(), msg))

	assert.Equal(t, []string{"send:http://sqs/events-dlq", "delete:http://sqs/events"}, calls)
}

func TestSQSGateway_MoveToDeadLetterKeepsMessageOnSendFailure(t *testing.T) {
	deleted := false

	fake := &fakeSQS{
		sendMessage: func(*sqs.SendMessageInput) (*sqs.SendMessageOutput, error) {
			return nil, errors.New("service unavailable")
		},
		deleteMessage: func(*sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
			deleted = true
			return &sqs.DeleteMessageOutput{}, nil
		},
	}

	g := testGateway(fake)
	err := g.MoveToDeadLetter(context.Background(), Message{ID: "m-1", ReceiptHandle: "rh-1"})
	require.Error(t, err)

	var te *TransientError
	assert.True(t, errors.As(err, &te))
	assert.False(t, deleted, "delete must not happen when dead-letter publish fails")
}

func TestSQSGateway_DeleteTreatsInvalidReceiptAsNoop(t *testing.T) {
	fake := &fakeSQS{
		deleteMessage: func(*sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
			return nil, &types.ReceiptHandleIsInvalid{}
		},
	}

	g := testGateway(fake)
	require.NoError(t, g.Delete(context.Background(), Message{ID: "m-1", ReceiptHandle: "stale"}))
}

func TestClassify(t *testing.T) {
	err := classify("receive", &types.QueueDoesNotExist{})
	assert.True(t, IsPermanent(err))

	err = classify("receive", errors.New("connection reset"))
	assert.False(t, IsPermanent(err))

	var te *TransientError
	assert.True(t, errors.As(err, &te))
}
