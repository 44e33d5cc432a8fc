// Package providers holds the ServiceAdapter implementations and the Router
// that dispatches actions to them by kind prefix.
//
// Subpackages:
//   - aws: aws.credentials and the s3.* bucket and object actions
//   - shell: shell.exec for vendor CLI commands
//   - probe: endpoint.probe over HTTP(S) and gRPC health
//   - fake: a scripted adapter for tests
package providers
