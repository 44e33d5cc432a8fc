package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"syscall"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// StatusCoder is implemented by adapter errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// DefaultClassifier maps SDK, network, HTTP and command failures onto
// categories.
type DefaultClassifier struct {
	// Overrides maps provider error codes to categories, taking
	// precedence over the built-in table.
	Overrides map[string]Category
}

// NewClassifier creates a classifier with optional code overrides.
func NewClassifier(overrides map[string]Category) *DefaultClassifier {
	return &DefaultClassifier{Overrides: overrides}
}

var codeCategories = map[string]Category{
	// throttling
	"Throttling":                             CategoryNetwork,
	"ThrottlingException":                    CategoryNetwork,
	"TooManyRequestsException":               CategoryNetwork,
	"RequestLimitExceeded":                   CategoryNetwork,
	"SlowDown":                               CategoryNetwork,
	"ProvisionedThroughputExceededException": CategoryNetwork,
	"RequestTimeout":                         CategoryNetwork,
	"ServiceUnavailable":                     CategoryNetwork,
	"InternalError":                          CategoryNetwork,

	// credentials
	"InvalidClientTokenId":        CategoryCredential,
	"ExpiredToken":                CategoryCredential,
	"ExpiredTokenException":       CategoryCredential,
	"UnrecognizedClientException": CategoryCredential,
	"SignatureDoesNotMatch":       CategoryCredential,
	"InvalidAccessKeyId":          CategoryCredential,
	"InvalidToken":                CategoryCredential,

	// permissions
	"AccessDenied":          CategoryPermission,
	"AccessDeniedException": CategoryPermission,
	"UnauthorizedOperation": CategoryPermission,
	"Forbidden":             CategoryPermission,
	"AllAccessDisabled":     CategoryPermission,

	// resource conflicts
	"BucketAlreadyOwnedByYou":        CategoryResource,
	"ConflictException":              CategoryResource,
	"ResourceAlreadyExistsException": CategoryResource,
	"ResourceInUseException":         CategoryResource,
	"EntityAlreadyExists":            CategoryResource,

	// configuration
	"ValidationException":       CategoryConfiguration,
	"ValidationError":           CategoryConfiguration,
	"InvalidParameterValue":     CategoryConfiguration,
	"InvalidParameterException": CategoryConfiguration,
	"InvalidBucketName":         CategoryConfiguration,
	"MalformedPolicyDocument":   CategoryConfiguration,
	"NoSuchBucket":              CategoryConfiguration,
	"InvalidLocationConstraint": CategoryConfiguration,
	"BucketAlreadyExists":       CategoryConfiguration,
}

// knownCodes lists the codeCategories keys longest first, so that
// "ExpiredTokenException" wins over "ExpiredToken" when scanning text.
var knownCodes = longestFirst(codeCategories)

func longestFirst(table map[string]Category) []string {
	codes := make([]string, 0, len(table))
	for code := range table {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		if len(codes[i]) != len(codes[j]) {
			return len(codes[i]) > len(codes[j])
		}
		return codes[i] < codes[j]
	})
	return codes
}

// Phrases matched case-insensitively in messages without a structured
// code, such as command stderr.
var phraseCategories = []struct {
	phrase   string
	category Category
}{
	{"already exists", CategoryResource},
	{"already owned by you", CategoryResource},
	{"access denied", CategoryPermission},
	{"accessdenied", CategoryPermission},
	{"not authorized", CategoryPermission},
	{"permission denied", CategoryPermission},
	{"unable to locate credentials", CategoryCredential},
	{"expired", CategoryCredential},
	{"invalid security token", CategoryCredential},
	{"throttl", CategoryNetwork},
	{"rate exceeded", CategoryNetwork},
	{"too many requests", CategoryNetwork},
	{"could not connect", CategoryNetwork},
	{"connection refused", CategoryNetwork},
	{"connection reset", CategoryNetwork},
	{"timed out", CategoryNetwork},
	{"no such host", CategoryNetwork},
	{"invalid parameter", CategoryConfiguration},
	{"validation error", CategoryConfiguration},
}

// Classify maps err to an ErrorRecord. A nil error yields nil.
func (c *DefaultClassifier) Classify(err error) *ErrorRecord {
	if err == nil {
		return nil
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Record()
	}

	category, code := c.categorize(err)
	record := &ErrorRecord{
		Category:    category,
		Code:        code,
		Message:     err.Error(),
		Retryable:   category.Retryable(),
		Remediation: category.DefaultRemediation(),
	}
	if code != "" {
		record.Remediation = remediationFor(code, category)
	}
	return record
}

func (c *DefaultClassifier) categorize(err error) (Category, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork, CodeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CategoryUnknown, CodeCancelled
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if cat, ok := c.lookupCode(code); ok {
			return cat, code
		}
		if cat, ok := statusCategory(responseStatus(err)); ok {
			return cat, code
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return CategoryNetwork, code
		}
	}

	if cat, ok := statusCategory(responseStatus(err)); ok {
		return cat, ""
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork, ""
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return CategoryNetwork, ""
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return CategoryNetwork, ""
	}

	raw := err.Error()
	msg := strings.ToLower(raw)
	for _, code := range longestFirst(c.Overrides) {
		if strings.Contains(msg, strings.ToLower(code)) {
			return c.Overrides[code], code
		}
	}
	for _, code := range knownCodes {
		if strings.Contains(raw, code) {
			return codeCategories[code], code
		}
	}
	for _, p := range phraseCategories {
		if strings.Contains(msg, p.phrase) {
			return p.category, ""
		}
	}

	return CategoryUnknown, ""
}

func (c *DefaultClassifier) lookupCode(code string) (Category, bool) {
	if cat, ok := c.Overrides[code]; ok {
		return cat, true
	}
	cat, ok := codeCategories[code]
	return cat, ok
}

func responseStatus(err error) int {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	var coder StatusCoder
	if errors.As(err, &coder) {
		return coder.StatusCode()
	}
	return 0
}

func statusCategory(status int) (Category, bool) {
	switch {
	case status == 0:
		return "", false
	case status == 401:
		return CategoryCredential, true
	case status == 403:
		return CategoryPermission, true
	case status == 409:
		return CategoryResource, true
	case status == 408, status == 429, status >= 500:
		return CategoryNetwork, true
	case status >= 400:
		return CategoryConfiguration, true
	default:
		return "", false
	}
}

func remediationFor(code string, category Category) string {
	switch code {
	case "ExpiredToken", "ExpiredTokenException":
		return "The session token has expired; refresh it (for example with aws sso login) and rerun with --resume"
	case "BucketAlreadyExists":
		return "The bucket name is taken by another account; choose a different s3.bucket"
	case "NoSuchBucket":
		return "Create the bucket or correct s3.bucket in the configuration"
	case CodeTimeout:
		return "The call exceeded step_timeout; check connectivity or raise step_timeout"
	}
	if category == CategoryPermission {
		return fmt.Sprintf("Grant the permission denied by %s to the role in use, then rerun with --resume", code)
	}
	return category.DefaultRemediation()
}
