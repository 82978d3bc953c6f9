package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/photo"
)

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Store_Put(t *testing.T) {
	fake := &fakeS3{}
	s := &S3Store{client: fake, bucket: "photos", baseURL: "https://cdn.example.org"}

	url, err := s.Put(context.Background(), "reports/42", photo.Image{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}})
	require.NoError(t, err)

	key := aws.ToString(fake.in.Key)
	assert.True(t, strings.HasPrefix(key, "reports/42/"), key)
	assert.True(t, strings.HasSuffix(key, ".jpg"), key)
	assert.Equal(t, "photos", aws.ToString(fake.in.Bucket))
	assert.Equal(t, "image/jpeg", aws.ToString(fake.in.ContentType))
	assert.Equal(t, []byte{0xff, 0xd8}, fake.body)
	assert.Equal(t, "https://cdn.example.org/"+key, url)
}

func TestS3Store_PutError(t *testing.T) {
	s := &S3Store{client: &fakeS3{err: errors.New("AccessDenied")}, bucket: "photos", baseURL: "x"}
	_, err := s.Put(context.Background(), "reports", photo.Image{MIMEType: "image/png", Data: []byte{1}})
	assert.ErrorContains(t, err, "AccessDenied")
}

func TestInlineStore(t *testing.T) {
	url, err := InlineStore{}.Put(context.Background(), "events", photo.Image{MIMEType: "image/png", Data: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,aGk=", url)
}

func TestNew_SelectsInlineWithoutBucket(t *testing.T) {
	st, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, InlineStore{}, st)
}
