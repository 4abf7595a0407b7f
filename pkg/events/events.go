package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

const (
	TypeCertificateIssued  = "certificate.issued"
	TypeCertificateRevoked = "certificate.revoked"
)

// CertificateEvent describes a change to a certificate's lifecycle.
type CertificateEvent struct {
	Type          string    `json:"type"`
	CertificateID string    `json:"certificate_id"`
	LedgerID      string    `json:"ledger_id"`
	TemplateID    string    `json:"template_id"`
	CreatorID     string    `json:"creator_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher delivers certificate events to interested parties.
type Publisher interface {
	Publish(ctx context.Context, event CertificateEvent) error
}

// snsAPI is the subset of the SNS client used here.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes events as JSON messages to one topic.
type SNSPublisher struct {
	client   snsAPI
	topicARN string
}

// NewSNSPublisher creates a publisher using the default AWS configuration.
func NewSNSPublisher(ctx context.Context, topicARN, region string) (*SNSPublisher, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SNSPublisher{client: sns.NewFromConfig(cfg), topicARN: topicARN}, nil
}

func (p *SNSPublisher) Publish(ctx context.Context, event CertificateEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	return nil
}

// LogPublisher only logs events. It is used when no topic is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event CertificateEvent) error {
	p.logger.Debug("Certificate event",
		zap.String("type", event.Type),
		zap.String("certificate_id", event.CertificateID),
		zap.String("ledger_id", event.LedgerID))
	return nil
}
