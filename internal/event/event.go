// Package event decodes object-created notifications into the single record
// a pipeline invocation works on.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// ErrNoRecord indicates a notification carried no object record.
var ErrNoRecord = errors.New("event: notification has no record")

// Record identifies the object an invocation should process.
type Record struct {
	Region string
	Bucket string
	Key    string
	Size   int64
}

// String returns the record as "bucket/key".
func (r Record) String() string {
	return r.Bucket + "/" + r.Key
}

// Parse decodes a raw notification and returns its first record.
//
// Both S3 event notifications and GCS object notifications
// (kind "storage#object") are understood. Further records are ignored.
func Parse(raw []byte) (Record, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Record{}, fmt.Errorf("decoding notification: %w", err)
	}
	if probe.Kind == "storage#object" {
		return parseGCS(raw)
	}

	var evt events.S3Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Record{}, fmt.Errorf("decoding S3 event: %w", err)
	}
	return FromLambda(evt)
}

// FromLambda returns the first record of an S3 event delivered by the Lambda
// runtime. The object key is URL-unescaped.
func FromLambda(evt events.S3Event) (Record, error) {
	if len(evt.Records) == 0 {
		return Record{}, ErrNoRecord
	}
	rec := evt.Records[0]

	key, err := url.QueryUnescape(rec.S3.Object.Key)
	if err != nil {
		return Record{}, fmt.Errorf("unescaping key %q: %w", rec.S3.Object.Key, err)
	}
	if rec.S3.Bucket.Name == "" || key == "" {
		return Record{}, fmt.Errorf("%w: missing bucket or key", ErrNoRecord)
	}

	return Record{
		Region: rec.AWSRegion,
		Bucket: rec.S3.Bucket.Name,
		Key:    key,
		Size:   rec.S3.Object.Size,
	}, nil
}

func parseGCS(raw []byte) (Record, error) {
	var obj struct {
		Bucket string `json:"bucket"`
		Name   string `json:"name"`
		ID     string `json:"id"`
		Size   string `json:"size"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Record{}, fmt.Errorf("decoding GCS notification: %w", err)
	}

	bucket := obj.Bucket
	if bucket == "" {
		// The id is "bucket/name/generation".
		if i := strings.IndexByte(obj.ID, '/'); i > 0 {
			bucket = obj.ID[:i]
		}
	}
	if bucket == "" || obj.Name == "" {
		return Record{}, fmt.Errorf("%w: missing bucket or name", ErrNoRecord)
	}

	var size int64
	if obj.Size != "" {
		if _, err := fmt.Sscan(obj.Size, &size); err != nil {
			return Record{}, fmt.Errorf("parsing size %q: %w", obj.Size, err)
		}
	}

	return Record{Bucket: bucket, Key: obj.Name, Size: size}, nil
}
