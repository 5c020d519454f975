package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObjects struct {
	objects map[string][]byte
	getErr  error
}

func (f *fakeObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	blob, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(blob))}, nil
}

func (f *fakeObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	blob, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = blob
	return &s3.PutObjectOutput{}, nil
}

func TestS3SessionStoreRoundTrip(t *testing.T) {
	fake := &fakeObjects{objects: map[string][]byte{}}
	s := &S3SessionStore{client: fake, bucket: "sessions", prefix: "/scraper/"}
	ctx := context.Background()

	blob, err := s.Load(ctx, "copart")
	if err != nil || blob != nil {
		t.Fatalf("Load(empty) = %q, %v; want nil, nil", blob, err)
	}

	want := []byte(`[{"name":"JSESSIONID","value":"abc"}]`)
	if err := s.Save(ctx, "copart", want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, ok := fake.objects["sessions/scraper/copart.json"]; !ok {
		t.Errorf("objects = %v, want key scraper/copart.json", fake.objects)
	}

	got, err := s.Load(ctx, "copart")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Load = %q, want %q", got, want)
	}
}

func TestS3SessionStoreKeyIgnoresPathSegments(t *testing.T) {
	s := &S3SessionStore{bucket: "b"}
	if got := s.key("../../etc/copart"); got != "copart.json" {
		t.Errorf("key = %q, want copart.json", got)
	}
}

func TestS3SessionStoreLoadError(t *testing.T) {
	boom := errors.New("access denied")
	s := &S3SessionStore{client: &fakeObjects{getErr: boom}, bucket: "b"}
	if _, err := s.Load(context.Background(), "iaai"); !errors.Is(err, boom) {
		t.Errorf("Load err = %v, want wrapped %v", err, boom)
	}
}
