package sqsqueue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// PollTrigger asks the poller to sweep one mailbox. It is the decoded body of
// a Gmail push notification.
type PollTrigger struct {
	EmailAddress string    `json:"emailAddress"`
	HistoryID    string    `json:"historyId"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

// DecodePollTrigger unpacks the base64 data field of a Pub/Sub push message.
func DecodePollTrigger(data string) (PollTrigger, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return PollTrigger{}, err
	}
	var body struct {
		EmailAddress string      `json:"emailAddress"`
		HistoryID    json.Number `json:"historyId"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return PollTrigger{}, err
	}
	return PollTrigger{
		EmailAddress: body.EmailAddress,
		HistoryID:    body.HistoryID.String(),
		ReceivedAt:   time.Now().UTC(),
	}, nil
}

type Producer struct {
	SQS      *sqs.Client
	QueueURL string
}

func (p *Producer) EnqueuePollTrigger(ctx context.Context, ev PollTrigger) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	})
	return err
}

func str(s string) *string { return &s }
