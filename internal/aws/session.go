package aws

import (
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/aws/aws-sdk-go/service/sts/stsiface"
)

// NewSession creates a new AWS session with the specified profile and region
func NewSession(profile string, region string) (*session.Session, error) {
	cfg := aws.NewConfig()
	if region != "" {
		cfg = cfg.WithRegion(region)
	}

	opts := session.Options{
		Config:            *cfg,
		Profile:           profile,
		SharedConfigState: session.SharedConfigEnable,
	}

	sess, err := session.NewSessionWithOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return sess, nil
}

// GetSessionInRegion creates a new session in the specified region using credentials from an existing session
func GetSessionInRegion(sess *session.Session, region string) (*session.Session, error) {
	if region == "" || aws.StringValue(sess.Config.Region) == region {
		return sess, nil
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}

	newSess, err := session.NewSession(sess.Config.Copy().WithRegion(region).WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return newSess, nil
}

// CallerAccount returns the account ID of the session's credentials
func CallerAccount(client stsiface.STSAPI) (string, error) {
	identity, err := client.GetCallerIdentity(&sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	if identity.Account == nil {
		return "", fmt.Errorf("account ID is nil")
	}
	return *identity.Account, nil
}
