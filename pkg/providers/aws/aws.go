// Package aws implements the aws.* and s3.* actions on the AWS SDK.
package aws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/openfroyo/gatewaysetup/pkg/engine"
)

// Action kinds served by the adapter.
const (
	KindCredentials  = "aws.credentials"
	KindCreateBucket = "s3.create_bucket"
	KindBucketExists = "s3.bucket_exists"
	KindPutObject    = "s3.put_object"
	KindObjectExists = "s3.object_exists"
)

// S3API is the subset of the S3 client the adapter uses.
type S3API interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Options configure the AWS clients.
type Options struct {
	Region  string
	Profile string

	// S3Endpoint points the S3 client at an S3-compatible endpoint, using
	// path-style addressing.
	S3Endpoint string

	// Credentials replace the default credential chain when set.
	Credentials aws.CredentialsProvider

	HTTPClient *http.Client
}

// Adapter serves AWS credential and S3 actions.
type Adapter struct {
	credentials aws.CredentialsProvider
	s3          S3API
	region      string
}

// New loads the AWS configuration and builds the S3 client.
// The SDK retryer makes a single attempt; retries belong to the engine's
// retry policy.
func New(ctx context.Context, opts Options) (*Adapter, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRetryMaxAttempts(1)}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Credentials != nil {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(opts.Credentials))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, config.WithHTTPClient(opts.HTTPClient))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, engine.NewError(engine.CategoryCredential, "failed to load AWS config", err).
			WithRemediation("Check the AWS profile and shared config files, or unset aws.profile")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithClient(cfg.Credentials, client, cfg.Region), nil
}

// NewWithClient builds an adapter over an existing S3 client.
func NewWithClient(credentials aws.CredentialsProvider, client S3API, region string) *Adapter {
	return &Adapter{credentials: credentials, s3: client, region: region}
}

// Invoke implements engine.ServiceAdapter. Errors are returned raw for
// the classifier.
func (a *Adapter) Invoke(ctx context.Context, action engine.Action) (*engine.Outcome, error) {
	switch action.Kind {
	case KindCredentials:
		return a.checkCredentials(ctx, action)
	case KindCreateBucket:
		return a.createBucket(ctx, action)
	case KindBucketExists:
		return a.bucketExists(ctx, action)
	case KindPutObject:
		return a.putObject(ctx, action)
	case KindObjectExists:
		return a.objectExists(ctx, action)
	default:
		return nil, engine.NewConfigurationError(fmt.Sprintf("unsupported AWS action %q", action.Kind), nil).
			WithOperation(action.Kind)
	}
}

func required(action engine.Action, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if action.Param(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return engine.NewConfigurationError(
		fmt.Sprintf("%s: missing parameter %s", action.Kind, strings.Join(missing, ", ")), nil).
		WithOperation(action.Kind)
}

func (a *Adapter) checkCredentials(ctx context.Context, action engine.Action) (*engine.Outcome, error) {
	if a.credentials == nil {
		return nil, engine.NewError(engine.CategoryCredential, "no AWS credentials configured", nil).
			WithOperation(action.Kind).
			WithRemediation("Configure AWS credentials (aws configure, aws sso login, or AWS_* variables)")
	}

	creds, err := a.credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to locate credentials: %w", err)
	}

	output := map[string]interface{}{
		"access_key_id": maskKey(creds.AccessKeyID),
		"source":        creds.Source,
		"region":        a.region,
	}
	if creds.CanExpire {
		output["expires"] = creds.Expires
	}
	if id := action.Param("account_id"); id != "" && creds.AccountID != "" && creds.AccountID != id {
		return nil, engine.NewError(engine.CategoryCredential,
			fmt.Sprintf("credentials belong to account %s, expected %s", creds.AccountID, id), nil).
			WithOperation(action.Kind).
			WithRemediation("Switch to a profile for account " + id + " or correct aws.account_id")
	}

	if check, _ := strconv.ParseBool(action.Param("check_s3")); check {
		out, err := a.s3.ListBuckets(ctx, &s3.ListBucketsInput{})
		if err != nil {
			return nil, err
		}
		output["s3_access"] = true
		output["bucket_count"] = len(out.Buckets)
	}

	return &engine.Outcome{Output: output}, nil
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

func (a *Adapter) createBucket(ctx context.Context, action engine.Action) (*engine.Outcome, error) {
	if err := required(action, "bucket"); err != nil {
		return nil, err
	}
	bucket := action.Param("bucket")
	region := action.Param("region")
	if region == "" {
		region = a.region
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}

	out, err := a.s3.CreateBucket(ctx, input)
	if err != nil {
		return nil, err
	}

	output := map[string]interface{}{"bucket": bucket, "region": region}
	if out.Location != nil {
		output["location"] = *out.Location
	}
	return &engine.Outcome{Output: output}, nil
}

func (a *Adapter) bucketExists(ctx context.Context, action engine.Action) (*engine.Outcome, error) {
	if err := required(action, "bucket"); err != nil {
		return nil, err
	}
	bucket := action.Param("bucket")

	_, err := a.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		if isNotFound(err) {
			return &engine.Outcome{Output: map[string]interface{}{"bucket": bucket, "exists": false}}, nil
		}
		return nil, err
	}
	return &engine.Outcome{Output: map[string]interface{}{"bucket": bucket, "exists": true}}, nil
}

func (a *Adapter) putObject(ctx context.Context, action engine.Action) (*engine.Outcome, error) {
	if err := required(action, "bucket", "key", "file"); err != nil {
		return nil, err
	}
	bucket, key, file := action.Param("bucket"), action.Param("key"), action.Param("file")

	f, err := os.Open(file)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("cannot read %s", file), err).
			WithOperation(action.Kind).
			WithRemediation("Check gateway.schema_file points at an existing file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", file, err)
	}

	out, err := a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(file)),
	})
	if err != nil {
		return nil, err
	}

	output := map[string]interface{}{
		"bucket": bucket,
		"key":    key,
		"size":   info.Size(),
		"uri":    fmt.Sprintf("s3://%s/%s", bucket, key),
	}
	if out.ETag != nil {
		output["etag"] = strings.Trim(*out.ETag, `"`)
	}
	return &engine.Outcome{Output: output}, nil
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}

func (a *Adapter) objectExists(ctx context.Context, action engine.Action) (*engine.Outcome, error) {
	if err := required(action, "bucket", "key"); err != nil {
		return nil, err
	}
	bucket, key := action.Param("bucket"), action.Param("key")

	out, err := a.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return &engine.Outcome{Output: map[string]interface{}{
				"bucket": bucket, "key": key, "exists": false, "size": int64(0),
			}}, nil
		}
		return nil, err
	}

	return &engine.Outcome{Output: map[string]interface{}{
		"bucket": bucket,
		"key":    key,
		"exists": true,
		"size":   aws.ToInt64(out.ContentLength),
	}}, nil
}

// isNotFound reports a missing bucket or object.
func isNotFound(err error) bool {
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// S3-compatible services may not map onto the typed errors.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket", "NoSuchKey", "404":
			return true
		}
	}
	return false
}
