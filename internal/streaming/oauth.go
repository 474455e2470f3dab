package streaming

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// ErrNoInstanceURL indicates the token response omitted the instance URL,
// which the client needs to locate the CometD endpoint.
var ErrNoInstanceURL = errors.New("token response missing instance_url")

// oauthTokenSource performs the resource-owner password grant against the
// Salesforce login server. The security token is appended to the password as
// the API requires.
type oauthTokenSource struct{}

func (s *oauthTokenSource) exchange(ctx context.Context, cfg *SalesforceConfig) (*Session, error) {
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: cfg.LoginURL + "/services/oauth2/token",
		},
	}

	token, err := oauthConfig.PasswordCredentialsToken(ctx, cfg.Username, cfg.credential())
	if err != nil {
		return nil, fmt.Errorf("password grant failed: %w", err)
	}

	instanceURL, ok := token.Extra("instance_url").(string)
	if !ok || instanceURL == "" {
		return nil, ErrNoInstanceURL
	}

	return &Session{
		AccessToken: token.AccessToken,
		InstanceURL: instanceURL,
	}, nil
}
