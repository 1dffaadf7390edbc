package sp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapping(local, remote string, requested bool) ClaimMapping {
	return ClaimMapping{LocalClaim: Claim{URI: local}, RemoteClaim: Claim{URI: remote}, Requested: requested}
}

func TestSubjectClaimURI(t *testing.T) {
	t.Run("translates remote subject claim to local", func(t *testing.T) {
		s := &ServiceProvider{
			SubjectClaimURI: "email",
			ClaimMappings: []ClaimMapping{
				mapping("http://wso2.org/claims/username", "username", true),
				mapping("http://wso2.org/claims/emailaddress", "email", false),
			},
		}
		assert.Equal(t, "http://wso2.org/claims/emailaddress", SubjectClaimURI(s))
	})

	t.Run("keeps local subject claim", func(t *testing.T) {
		s := &ServiceProvider{SubjectClaimURI: "http://wso2.org/claims/username"}
		assert.Equal(t, "http://wso2.org/claims/username", SubjectClaimURI(s))
	})

	t.Run("empty when unset", func(t *testing.T) {
		assert.Empty(t, SubjectClaimURI(&ServiceProvider{}))
	})

	t.Run("unset ignores mappings with a blank remote claim", func(t *testing.T) {
		s := &ServiceProvider{ClaimMappings: []ClaimMapping{
			mapping("http://wso2.org/claims/lastname", "", false),
		}}
		assert.Empty(t, SubjectClaimURI(s))
	})
}

func TestRequestedLocalClaims(t *testing.T) {
	s := &ServiceProvider{ClaimMappings: []ClaimMapping{
		mapping("a", "ra", true),
		mapping("b", "rb", false),
		mapping("c", "rc", true),
	}}
	assert.Equal(t, []string{"a", "c"}, RequestedLocalClaims(s))
}

func TestMappedUserRoles(t *testing.T) {
	s := &ServiceProvider{RoleMappings: []RoleMapping{
		{LocalRole: "admin", RemoteRole: "administrator"},
		{LocalRole: "dev", RemoteRole: "developer"},
		{LocalRole: "ops", RemoteRole: "developer"},
	}}

	assert.Equal(t, "administrator,,,developer,,,guest", MappedUserRoles(s, []string{"admin", "dev", "guest", "ops"}, ",,,"))
	assert.Equal(t, "", MappedUserRoles(s, nil, ",,,"))
	assert.Equal(t, "guest", MappedUserRoles(&ServiceProvider{}, []string{"guest"}, ","))
}

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()
	r.AddServiceProvider(&ServiceProvider{Name: "portal", TenantDomain: "example.org"})
	r.AddServiceProvider(&ServiceProvider{Name: "console"})

	require.NoError(t, r.AddApp(&App{ClientID: "c1", TenantDomain: "example.org", ServiceProvider: "portal"}))
	require.NoError(t, r.AddApp(&App{ClientID: "c2", ServiceProvider: "console"}))
	require.Error(t, r.AddApp(&App{ClientID: "c3", ServiceProvider: "missing"}))

	app, err := r.AppByClientID(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, DefaultTenant, app.TenantDomain)

	s, err := r.ServiceProvider(ctx, "c1", "example.org")
	require.NoError(t, err)
	assert.Equal(t, "portal", s.Name)

	_, err = r.AppByClientID(ctx, "unknown")
	assert.True(t, errors.Is(err, ErrInvalidClient))

	_, err = r.ServiceProvider(ctx, "c1", DefaultTenant)
	assert.True(t, errors.Is(err, ErrInvalidClient))
}
