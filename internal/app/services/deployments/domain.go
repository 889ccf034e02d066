package deployments

import (
	"regexp"
	"strings"

	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	apperrors "github.com/R3E-Network/apphost/internal/errors"
)

const maxDomainLength = 253

var labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// NormalizeDomain lower-cases and validates a domain. A domain is a non-empty
// dot-separated sequence of DNS labels.
func NormalizeDomain(domain string) (string, error) {
	d := deployment.CanonicalDomain(domain)
	if d == "" {
		return "", apperrors.InvalidDomain(domain, "domain is empty")
	}
	if len(d) > maxDomainLength {
		return "", apperrors.InvalidDomain(domain, "domain is too long")
	}
	for _, label := range strings.Split(d, ".") {
		if label == "" {
			return "", apperrors.InvalidDomain(domain, "empty label")
		}
		if !labelPattern.MatchString(label) {
			return "", apperrors.InvalidDomain(domain, "label "+label+" is not a valid DNS label")
		}
	}
	return d, nil
}

// DeriveDomain builds the conventional per-user domain for a module: the
// module name up to its first dot, followed by "<userID>.user".
func DeriveDomain(moduleName, userID string) (string, error) {
	if strings.HasPrefix(moduleName, ".") {
		return "", apperrors.InvalidDomain(moduleName, "module name starts with a dot")
	}
	if strings.TrimSpace(userID) == "" {
		return "", apperrors.InvalidDomain("", "a domain is required for anonymous users")
	}
	prefix := moduleName
	if i := strings.IndexByte(moduleName, '.'); i >= 0 {
		prefix = moduleName[:i]
	}
	return NormalizeDomain(prefix + "." + userID + ".user")
}
