package config

import (
	"encoding/json"
	"path"
	"path/filepath"
	"strings"

	"github.com/openfroyo/gatewaysetup/pkg/engine"
)

// Step IDs of the default gateway pipeline.
const (
	StepValidateCredentials      = "validate-credentials"
	StepCreateBucket             = "create-bucket"
	StepUploadSchema             = "upload-schema"
	StepCreateCredentialProvider = "create-credential-provider"
	StepCreateGateway            = "create-gateway"
	StepVerifyGateway            = "verify-gateway"
)

// Pipeline returns the configured steps, or the default gateway pipeline
// derived from the aws, s3 and gateway sections when none are declared.
// Optional stages are left out when the section they need is empty.
func (c *Config) Pipeline() []engine.Step {
	if len(c.Steps) > 0 {
		return c.Steps
	}

	steps := []engine.Step{
		{
			ID:          StepValidateCredentials,
			Description: "Validate AWS credentials and S3 access",
			Idempotent:  true,
			Action: engine.Action{Kind: "aws.credentials", Params: map[string]string{
				"region":     c.AWS.Region,
				"profile":    c.AWS.Profile,
				"account_id": c.AWS.AccountID,
				"check_s3":   "true",
			}},
		},
		{
			ID:          StepCreateBucket,
			Description: "Create the schema bucket " + c.S3.Bucket,
			DependsOn:   []string{StepValidateCredentials},
			Idempotent:  true,
			Action: engine.Action{Kind: "s3.create_bucket", Params: map[string]string{
				"bucket": c.S3.Bucket,
				"region": c.AWS.Region,
			}},
			Postcondition: &engine.Condition{
				Action:      engine.Action{Kind: "s3.bucket_exists", Params: map[string]string{"bucket": c.S3.Bucket}},
				Expect:      `output["exists"]`,
				Description: "bucket " + c.S3.Bucket + " exists",
			},
		},
	}

	gatewayDeps := []string{StepValidateCredentials}

	if c.Gateway.SchemaFile != "" {
		key := c.SchemaKey()
		steps = append(steps, engine.Step{
			ID:          StepUploadSchema,
			Description: "Upload the API schema to s3://" + c.S3.Bucket + "/" + key,
			DependsOn:   []string{StepCreateBucket},
			Idempotent:  true,
			Action: engine.Action{Kind: "s3.put_object", Params: map[string]string{
				"bucket": c.S3.Bucket,
				"key":    key,
				"file":   c.Gateway.SchemaFile,
			}},
			Postcondition: &engine.Condition{
				Action:      engine.Action{Kind: "s3.object_exists", Params: map[string]string{"bucket": c.S3.Bucket, "key": key}},
				Expect:      `output["exists"] and output["size"] > 0`,
				Description: "schema object " + key + " is present and non-empty",
			},
		})
		gatewayDeps = append(gatewayDeps, StepUploadSchema)
	} else {
		gatewayDeps = append(gatewayDeps, StepCreateBucket)
	}

	if len(c.Gateway.CredentialProviderCommand) > 0 {
		steps = append(steps, engine.Step{
			ID:          StepCreateCredentialProvider,
			Description: "Create credential provider " + c.Gateway.CredentialProviderName,
			DependsOn:   []string{StepValidateCredentials},
			Idempotent:  true,
			Action:      commandAction(c.Gateway.CredentialProviderCommand),
		})
		gatewayDeps = append(gatewayDeps, StepCreateCredentialProvider)
	}

	if len(c.Gateway.GatewayCommand) > 0 {
		steps = append(steps, engine.Step{
			ID:          StepCreateGateway,
			Description: "Create gateway " + c.Gateway.Name,
			DependsOn:   gatewayDeps,
			Idempotent:  true,
			Action:      commandAction(c.Gateway.GatewayCommand),
		})

		if c.Gateway.URL != "" {
			steps = append(steps, engine.Step{
				ID:          StepVerifyGateway,
				Description: "Probe the gateway endpoint",
				DependsOn:   []string{StepCreateGateway},
				Idempotent:  true,
				Action: engine.Action{Kind: "endpoint.probe", Params: map[string]string{
					"name":   c.Gateway.Name,
					"url":    c.Gateway.URL,
					"scheme": schemeOf(c.Gateway.URL),
				}},
			})
		}
	}

	return steps
}

// SchemaKey is the object key the schema file is uploaded to.
func (c *Config) SchemaKey() string {
	return path.Join(strings.Trim(c.S3.PathPrefix, "/"), filepath.Base(c.Gateway.SchemaFile))
}

// commandAction encodes an argv list for the shell adapter.
func commandAction(argv []string) engine.Action {
	params := map[string]string{"command": argv[0]}
	if len(argv) > 1 {
		args, _ := json.Marshal(argv[1:])
		params["args"] = string(args)
	}
	return engine.Action{Kind: "shell.exec", Params: params}
}
