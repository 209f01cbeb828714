package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

type emailSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Email sends notices through SES. Reviewer notices go to every reviewer
// address; contributor notices go to the address mapped to the recipient id
// and are skipped when there is none.
type Email struct {
	Client            emailSender
	From              string
	ReviewerEmails    []string
	ContributorEmails map[string]string
}

func (e Email) NotifyReviewers(ctx context.Context, n Notice) error {
	if len(e.ReviewerEmails) == 0 {
		return nil
	}
	return e.send(ctx, e.ReviewerEmails, n)
}

func (e Email) NotifyContributor(ctx context.Context, n Notice) error {
	addr, ok := e.ContributorEmails[n.RecipientID]
	if !ok || addr == "" {
		return nil
	}
	return e.send(ctx, []string{addr}, n)
}

func (e Email) send(ctx context.Context, to []string, n Notice) error {
	body := fmt.Sprintf("%s\n\nContent: %s/%s\nActor: %s (%s)\n", n.Subject(), n.ContentKind, n.ContentID, n.ActorName, n.ActorID)
	_, err := e.Client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(e.From),
		Destination: &types.Destination{ToAddresses: to},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(n.Subject()), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}
