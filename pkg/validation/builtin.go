package validation

// libModule is compiled alongside every policy so rules can share the
// placeholder list and the violation constructor as data.gwsetup.lib.
const libModule = `package gwsetup.lib

import rego.v1

placeholders := {
	"YOUR_ACCOUNT_ID",
	"REGION",
	"YOUR_USER_POOL_ID",
	"YOUR_CLIENT_ID",
	"your-bucket-name",
}

placeholder(value) if value in placeholders

violation(field, message, severity, remediation) := {
	"field": field,
	"message": message,
	"severity": severity,
	"remediation": remediation,
}
`

// BuiltinPolicies returns the policies evaluated on every pre-flight.
func BuiltinPolicies() []Policy {
	return []Policy{
		placeholderPolicy(),
		awsFormatPolicy(),
		endpointSchemePolicy(),
	}
}

func placeholderPolicy() Policy {
	return Policy{
		Name:        "placeholders",
		Description: "Rejects template placeholder values left in the configuration",
		Rego: `package gwsetup.placeholders

import rego.v1

import data.gwsetup.lib

deny contains v if {
	walk(input, [path, value])
	is_string(value)
	lib.placeholder(value)
	field := concat(".", [sprintf("%v", [p]) | some p in path])
	v := lib.violation(
		field,
		sprintf("%s is still the placeholder %q", [field, value]),
		"error",
		sprintf("Replace %s with the real value", [field]),
	)
}
`,
	}
}

func awsFormatPolicy() Policy {
	return Policy{
		Name:        "aws-format",
		Description: "Checks the shape of AWS and Cognito identifiers",
		Rego: `package gwsetup.aws

import rego.v1

import data.gwsetup.lib

deny contains v if {
	id := input.aws.account_id
	id != ""
	not lib.placeholder(id)
	not regex.match("^[0-9]{12}$", id)
	v := lib.violation(
		"aws.account_id",
		sprintf("aws.account_id %q must be 12 digits", [id]),
		"error",
		"Use the 12-digit AWS account ID, e.g. from 'aws sts get-caller-identity'",
	)
}

deny contains v if {
	region := input.aws.region
	region != ""
	not lib.placeholder(region)
	not regex.match("^[a-z0-9-]+$", region)
	v := lib.violation(
		"aws.region",
		sprintf("aws.region %q must contain only lowercase letters, digits and hyphens", [region]),
		"error",
		"Use an AWS region code such as us-east-1",
	)
}

deny contains v if {
	pool := input.cognito.user_pool_id
	pool != ""
	not lib.placeholder(pool)
	not regex.match("^[A-Za-z0-9-]+_[A-Za-z0-9]+$", pool)
	v := lib.violation(
		"cognito.user_pool_id",
		sprintf("cognito.user_pool_id %q must look like <region>_<id>", [pool]),
		"error",
		"Copy the user pool ID from the Cognito console",
	)
}
`,
	}
}

func endpointSchemePolicy() Policy {
	return Policy{
		Name:        "endpoint-scheme",
		Description: "Requires https for service endpoints",
		Rego: `package gwsetup.endpoints

import rego.v1

import data.gwsetup.lib

secure_fields := {
	"aws.endpoint_url": object.get(input, ["aws", "endpoint_url"], ""),
	"aws.credential_provider_endpoint_url": object.get(input, ["aws", "credential_provider_endpoint_url"], ""),
	"gateway.url": object.get(input, ["gateway", "url"], ""),
}

deny contains v if {
	some field, url in secure_fields
	url != ""
	not startswith(url, "https://")
	v := lib.violation(
		field,
		sprintf("%s %q must use https", [field, url]),
		"error",
		sprintf("Change %s to an https:// URL", [field]),
	)
}

deny contains v if {
	some i, ep in object.get(input, "endpoints", [])
	ep.scheme == "http"
	v := lib.violation(
		sprintf("endpoints.%v.url", [i]),
		sprintf("endpoint %s is probed over plain http", [ep.name]),
		"warning",
		"Prefer https for endpoints that carry credentials",
	)
}
`,
	}
}
