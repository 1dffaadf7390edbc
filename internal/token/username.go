package token

import "strings"

// TenantAwareUsername strips a trailing "@tenantDomain" from username.
// Email-style usernames keep their own "@" as long as the tenant suffix
// does not match.
func TenantAwareUsername(username, tenantDomain string) string {
	if tenantDomain == "" {
		return username
	}
	suffix := "@" + tenantDomain
	if strings.HasSuffix(username, suffix) && len(username) > len(suffix) {
		return strings.TrimSuffix(username, suffix)
	}
	return username
}

// RemoveDomain strips a leading "DOMAIN/" user store prefix
func RemoveDomain(username string) string {
	if i := strings.Index(username, "/"); i > 0 {
		return username[i+1:]
	}
	return username
}

// DisplayUsername is the tenant-aware username with its user store domain
// removed, which is what callers see as a fallback subject.
func DisplayUsername(username, tenantDomain string) string {
	return RemoveDomain(TenantAwareUsername(username, tenantDomain))
}
