package blob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func newTestStore() *S3Store {
	return NewS3Store("afterliving", "us-east-1", "http://127.0.0.1:9000", "minioadmin", "minioadmin")
}

func Test_getClient_AppliesConfig(t *testing.T) {
	store := newTestStore()

	origLoad := loadDefaultAWSConfig
	origNewS3 := newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNewS3
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				t.Fatalf("load options fn error: %v", err)
			}
		}
		if lo.Region != "us-east-1" {
			t.Fatalf("region not applied: %q", lo.Region)
		}
		return aws.Config{}, nil
	}

	var capturedBaseEndpoint string
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var opts s3.Options
		for _, fn := range optFns {
			fn(&opts)
		}
		if opts.BaseEndpoint == nil {
			t.Fatalf("BaseEndpoint not set")
		}
		capturedBaseEndpoint = *opts.BaseEndpoint
		if !opts.UsePathStyle {
			t.Fatalf("expected path-style addressing")
		}
		return &s3.Client{}
	}

	client, err := store.getClient(context.Background())
	if err != nil {
		t.Fatalf("getClient err: %v", err)
	}
	if client == nil {
		t.Fatalf("nil client")
	}
	if capturedBaseEndpoint != "http://127.0.0.1:9000" {
		t.Fatalf("BaseEndpoint mismatch: %q", capturedBaseEndpoint)
	}

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("load-fail")
	}

	if _, err := store.getClient(context.Background()); err == nil || err.Error() != "load-fail" {
		t.Fatalf("expected load-fail, got %v", err)
	}
}

func Test_PutURL_And_GetURL(t *testing.T) {
	store := newTestStore()

	origLoad := loadDefaultAWSConfig
	origNewS3 := newS3ClientFromConfig
	origNewPre := newS3PresignClient
	origPut := presignPutObject
	origGet := presignGetObject
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNewS3
		newS3PresignClient = origNewPre
		presignPutObject = origPut
		presignGetObject = origGet
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return &s3.Client{}
	}
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return &s3.PresignClient{}
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		if *in.Bucket != "afterliving" || *in.Key != "plans/p1/obj" {
			t.Fatalf("unexpected put input: %v %v", *in.Bucket, *in.Key)
		}
		return &v4.PresignedHTTPRequest{URL: "http://upload"}, nil
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		if *in.Key != "plans/p1/obj" {
			t.Fatalf("unexpected get key: %v", *in.Key)
		}
		return &v4.PresignedHTTPRequest{URL: "http://download"}, nil
	}

	url, err := store.PutURL(context.Background(), "plans/p1/obj", 15*time.Minute)
	if err != nil {
		t.Fatalf("PutURL err: %v", err)
	}
	if url != "http://upload" {
		t.Fatalf("unexpected put url: %q", url)
	}

	url, err = store.GetURL(context.Background(), "plans/p1/obj", time.Minute)
	if err != nil {
		t.Fatalf("GetURL err: %v", err)
	}
	if url != "http://download" {
		t.Fatalf("unexpected get url: %q", url)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return nil, errors.New("presign-fail")
	}
	if _, err := store.GetURL(context.Background(), "plans/p1/obj", time.Minute); err == nil {
		t.Fatalf("expected presign error")
	}
}

func Test_Delete(t *testing.T) {
	store := newTestStore()

	origLoad := loadDefaultAWSConfig
	origNewS3 := newS3ClientFromConfig
	origDelete := deleteObject
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNewS3
		deleteObject = origDelete
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return &s3.Client{}
	}

	var deletedKey string
	deleteObject = func(c *s3.Client, ctx context.Context, in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
		deletedKey = *in.Key
		return &s3.DeleteObjectOutput{}, nil
	}

	if err := store.Delete(context.Background(), "plans/p1/obj"); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if deletedKey != "plans/p1/obj" {
		t.Fatalf("unexpected deleted key: %q", deletedKey)
	}
}
