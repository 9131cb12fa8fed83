// Package blobstore persists batch artifacts.
//
// Two implementations back the Store interface: an S3-compatible object
// store via minio-go for production deployments, and a local filesystem
// store for tests and single-node setups. Both address objects with the
// artifact package's key scheme and neither ever deletes an object.
package blobstore
