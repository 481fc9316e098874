package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3API serves ranged GETs from an in-memory object map, honoring the
// same Range header grammar the store emits.
type fakeS3API struct {
	objects  map[string][]byte
	pageSize int
}

func (f *fakeS3API) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	start, end := int64(0), int64(len(data))-1
	if r := aws.ToString(params.Range); r != "" {
		var s, e int64
		if _, err := fmt.Sscanf(r, "bytes=%d-%d", &s, &e); err != nil {
			return nil, fmt.Errorf("bad range %q", r)
		}
		start = s
		if e < end {
			end = e
		}
	}
	if start > end {
		return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(nil))}, nil
	}
	body := data[start : end+1]
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

func (f *fakeS3API) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3API) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(params.Prefix)) {
			keys = append(keys, k)
		}
	}
	// Deterministic order for pagination.
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	start := 0
	if tok := aws.ToString(params.ContinuationToken); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	page := f.pageSize
	if page <= 0 {
		page = len(keys)
	}
	end := start + page
	if end > len(keys) {
		end = len(keys)
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(f.objects[k]))),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func TestS3StoreSizeAndReadRange(t *testing.T) {
	api := &fakeS3API{objects: map[string][]byte{
		"captures/a.pcap.gz": []byte("0123456789"),
	}}
	store := newS3StoreWithAPI("bucket", api)

	size, err := store.Size(context.Background(), "captures/a.pcap.gz")
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 10 {
		t.Fatalf("size = %d, want 10", size)
	}

	got, err := store.ReadRange(context.Background(), "captures/a.pcap.gz", 2, 4)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(got) != "2345" {
		t.Fatalf("range = %q, want 2345", got)
	}

	// A range past the end returns the available suffix.
	got, err = store.ReadRange(context.Background(), "captures/a.pcap.gz", 8, 100)
	if err != nil {
		t.Fatalf("ReadRange tail: %v", err)
	}
	if string(got) != "89" {
		t.Fatalf("tail = %q, want 89", got)
	}
}

func TestS3StoreMissingKeyUnavailable(t *testing.T) {
	store := newS3StoreWithAPI("bucket", &fakeS3API{objects: map[string][]byte{}})

	if _, err := store.Size(context.Background(), "nope"); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Size err = %v, want ErrSourceUnavailable", err)
	}
	if _, err := store.ReadRange(context.Background(), "nope", 0, 1); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("ReadRange err = %v, want ErrSourceUnavailable", err)
	}
}

func TestS3StoreListPaginates(t *testing.T) {
	api := &fakeS3API{
		objects: map[string][]byte{
			"captures/a": {1},
			"captures/b": {1, 2},
			"captures/c": {1, 2, 3},
			"other/x":    {1},
		},
		pageSize: 2,
	}
	store := newS3StoreWithAPI("bucket", api)

	objs, err := store.List(context.Background(), "captures/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 3 {
		t.Fatalf("listed %d objects, want 3", len(objs))
	}
	if objs[0].Key != "captures/a" || objs[2].Key != "captures/c" {
		t.Fatalf("unexpected keys: %+v", objs)
	}
	if objs[2].Size != 3 {
		t.Fatalf("size = %d, want 3", objs[2].Size)
	}
}

func TestClassifyS3ErrorTransientDefault(t *testing.T) {
	err := classifyS3Error(fmt.Errorf("get object: connection reset"), errors.New("connection reset"))
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
}
