package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"formgate/internal/config"
	"formgate/internal/constants"
	"formgate/internal/submission"
	apperrors "formgate/pkg/errors"
)

const defaultSESRegion = "us-east-1"

// SESAPI is the subset of the SES v2 client used for delivery.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES error codes that will not succeed on retry.
var permanentSESCodes = map[string]bool{
	"MessageRejected":                    true,
	"MailFromDomainNotVerifiedException": true,
	"AccountSuspendedException":          true,
	"SendingPausedException":             true,
	"BadRequestException":                true,
	"NotFoundException":                  true,
}

type SESSender struct {
	client           SESAPI
	senderAddress    string
	configurationSet string
}

// NewSESSender loads the default AWS credential chain, overridden by static
// keys when both are configured.
func NewSESSender(ctx context.Context, cfg config.DeliveryConfig) (*SESSender, error) {
	region := cfg.SES.Region
	if region == "" {
		region = defaultSESRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.SES.AccessKeyID != "" && cfg.SES.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SES.AccessKeyID, cfg.SES.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESSenderWithClient(sesv2.NewFromConfig(awsCfg), cfg.SenderAddress, cfg.SES.ConfigurationSet), nil
}

func NewSESSenderWithClient(client SESAPI, senderAddress, configurationSet string) *SESSender {
	return &SESSender{
		client:           client,
		senderAddress:    senderAddress,
		configurationSet: configurationSet,
	}
}

// Send uses the verified sender address as From and points Reply-To at the
// submitter, since SES refuses unverified From identities.
func (s *SESSender) Send(ctx context.Context, msg submission.Message) (err error) {
	start := time.Now()
	defer func() { observeDelivery(constants.DeliveryTypeSES, start, err) }()

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, s.senderAddress)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("site_id"), Value: aws.String(tagValue(msg.SiteID))},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return classifySESError(err)
	}
	return nil
}

func classifySESError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && permanentSESCodes[apiErr.ErrorCode()] {
		return apperrors.ErrDeliveryRejected.WithCause(err)
	}
	return apperrors.ErrDeliveryFailed.WithCause(err)
}

// tagValue keeps SES tag values within the allowed character set.
func tagValue(v string) string {
	if v == "" {
		return "unknown"
	}
	out := []rune(v)
	for i, r := range out {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			out[i] = '_'
		}
	}
	return string(out)
}
