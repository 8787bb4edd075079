package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider"

	"github.com/pavitra93/netqr-tenant-identity/shared/models"
)

// Authorizer decides whether a principal may moderate requests. Every admin operation in
// this package and the HTTP admin middleware share one instance.
type Authorizer interface {
	IsAdmin(ctx context.Context, p models.Principal) (bool, error)
}

// AuthorizerFunc adapts a function to Authorizer
type AuthorizerFunc func(ctx context.Context, p models.Principal) (bool, error)

func (f AuthorizerFunc) IsAdmin(ctx context.Context, p models.Principal) (bool, error) {
	return f(ctx, p)
}

// EmailAllowList grants admin to a fixed set of e-mail addresses, compared case-insensitively
type EmailAllowList struct {
	emails map[string]struct{}
}

// NewEmailAllowList builds the list, ignoring blanks
func NewEmailAllowList(emails ...string) *EmailAllowList {
	l := &EmailAllowList{emails: make(map[string]struct{}, len(emails))}
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			l.emails[e] = struct{}{}
		}
	}
	return l
}

func (l *EmailAllowList) IsAdmin(_ context.Context, p models.Principal) (bool, error) {
	_, ok := l.emails[strings.ToLower(strings.TrimSpace(p.Email))]
	return ok && p.Email != "", nil
}

// RoleClaim grants admin when the token carried the admin role
type RoleClaim struct{}

func (RoleClaim) IsAdmin(_ context.Context, p models.Principal) (bool, error) {
	return p.Role == models.RoleAdmin, nil
}

// CognitoGroupsAPI is the slice of the Cognito client CognitoGroup needs
type CognitoGroupsAPI interface {
	AdminListGroupsForUserWithContext(ctx aws.Context, input *cognitoidentityprovider.AdminListGroupsForUserInput, opts ...request.Option) (*cognitoidentityprovider.AdminListGroupsForUserOutput, error)
}

// CognitoGroup grants admin to members of a Cognito user pool group
type CognitoGroup struct {
	client     CognitoGroupsAPI
	userPoolID string
	group      string
}

// NewCognitoGroup creates a policy checking membership of group in the user pool
func NewCognitoGroup(client CognitoGroupsAPI, userPoolID, group string) *CognitoGroup {
	return &CognitoGroup{client: client, userPoolID: userPoolID, group: group}
}

func (g *CognitoGroup) IsAdmin(ctx context.Context, p models.Principal) (bool, error) {
	username := p.Username
	if username == "" {
		username = p.ID
	}
	if username == "" {
		return false, nil
	}

	input := &cognitoidentityprovider.AdminListGroupsForUserInput{
		UserPoolId: aws.String(g.userPoolID),
		Username:   aws.String(username),
	}
	for {
		out, err := g.client.AdminListGroupsForUserWithContext(ctx, input)
		if err != nil {
			return false, fmt.Errorf("failed to list cognito groups: %w", err)
		}
		for _, grp := range out.Groups {
			if aws.StringValue(grp.GroupName) == g.group {
				return true, nil
			}
		}
		if aws.StringValue(out.NextToken) == "" {
			return false, nil
		}
		input.NextToken = out.NextToken
	}
}

// AnyOf grants admin when any of the policies does. A policy error is returned only when no
// other policy granted access.
func AnyOf(policies ...Authorizer) Authorizer {
	return AuthorizerFunc(func(ctx context.Context, p models.Principal) (bool, error) {
		var firstErr error
		for _, policy := range policies {
			ok, err := policy.IsAdmin(ctx, p)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if ok {
				return true, nil
			}
		}
		return false, firstErr
	})
}

// RequireAdmin returns a Forbidden error unless authz grants p admin rights
func RequireAdmin(ctx context.Context, authz Authorizer, p models.Principal) error {
	ok, err := authz.IsAdmin(ctx, p)
	if err != nil {
		return fmt.Errorf("failed to check admin policy: %w", err)
	}
	if !ok {
		return newError(KindForbidden, "admin access required")
	}
	return nil
}
