package listpress

import (
	"strconv"

	"github.com/discochess/listpress/internal/objkey"
	"github.com/discochess/listpress/internal/tap"
)

// ObjectRef addresses one object in a bucket.
type ObjectRef struct {
	Bucket string
	Key    string
}

// String returns the reference as "bucket/key".
func (r ObjectRef) String() string {
	return r.Bucket + "/" + r.Key
}

// Direction is the transform an invocation applies.
type Direction int

const (
	// DirectionCompress encodes a raw source and uploads it to the target.
	DirectionCompress Direction = iota
	// DirectionDecompressVerify decodes an already compressed source to
	// count it, then copies it unmodified to the target.
	DirectionDecompressVerify
)

func (d Direction) String() string {
	switch d {
	case DirectionCompress:
		return "compress"
	case DirectionDecompressVerify:
		return "decompress-verify"
	default:
		return "unknown"
	}
}

// Outcome is the terminal state of an invocation.
type Outcome int

const (
	// OutcomeSuccess means the target holds the canonical object with its
	// metadata and the source was deleted.
	OutcomeSuccess Outcome = iota
	// OutcomeRejected means the key did not name an accepted content type.
	OutcomeRejected
	// OutcomeTransformFailed means reading, decoding, encoding or uploading
	// failed mid-stream.
	OutcomeTransformFailed
	// OutcomeInvalid means the stream was empty or had no line break.
	OutcomeInvalid
	// OutcomeMetadataFailed means the metadata update on the target failed.
	OutcomeMetadataFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTransformFailed:
		return "transform-failed"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeMetadataFailed:
		return "metadata-failed"
	default:
		return "unknown"
	}
}

// Result describes one invocation. It is returned alongside the error on
// failure paths, with the fields reached so far filled in.
type Result struct {
	Outcome   Outcome
	Direction Direction

	// Source is the object the invocation was triggered for.
	Source ObjectRef

	// Target is the resolved destination. Empty when the key was rejected.
	Target ObjectRef

	ContentType objkey.ContentType

	// Metrics are counted over the uncompressed stream.
	Metrics tap.Metrics

	// Abandoned is set when the caller's context ended mid-invocation.
	// The source is kept so a redelivered trigger can retry.
	Abandoned bool
}

// Metadata returns the metadata attached to the target object.
func (r *Result) Metadata() map[string]string {
	return map[string]string{
		MetadataType:  string(r.ContentType),
		MetadataLines: strconv.FormatUint(r.Metrics.Lines, 10),
		MetadataSize:  strconv.FormatUint(r.Metrics.Bytes, 10),
	}
}
