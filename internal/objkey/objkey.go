// Package objkey parses incoming object keys and derives canonical target
// keys from them.
package objkey

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Sentinel errors for malformed keys.
var (
	// ErrNoDirectory indicates the key has no directory segment to take the
	// content type from.
	ErrNoDirectory = errors.New("objkey: key has no directory segment")

	// ErrEmptyBasename indicates the filename reduces to an empty basename.
	ErrEmptyBasename = errors.New("objkey: empty basename")
)

// DefaultContentTypes are the prefixes accepted when no allow-list is given.
var DefaultContentTypes = []ContentType{"rules", "wordlist"}

// Key is the parsed form of an object key.
//
// Prefix and Basename are taken from the last two path segments. Extension
// is scanned over the whole key, so for a key like "lists/v1.2/common" it is
// "2/common": such an extension never names a codec and the object is treated
// as uncompressed.
type Key struct {
	Prefix    string
	Basename  string
	Extension string
}

// Parse splits key into its prefix, basename and extension.
func Parse(key string) (Key, error) {
	slash := strings.LastIndexByte(key, '/')
	if slash < 0 {
		return Key{}, fmt.Errorf("%w: %q", ErrNoDirectory, key)
	}

	dir, filename := key[:slash], key[slash+1:]
	prefix := dir
	if i := strings.LastIndexByte(dir, '/'); i >= 0 {
		prefix = dir[i+1:]
	}

	basename := filename
	if i := strings.LastIndexByte(filename, '.'); i >= 0 {
		basename = filename[:i]
	}
	if basename == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrEmptyBasename, key)
	}

	var ext string
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		ext = strings.ToLower(key[i+1:])
	}

	return Key{
		Prefix:    prefix,
		Basename:  basename,
		Extension: ext,
	}, nil
}

// ContentType names the kind of list an object holds. It is the key's
// prefix.
type ContentType string

// Classifier decides which content types are accepted.
type Classifier struct {
	allowed []ContentType
}

// NewClassifier returns a Classifier accepting the given content types.
// With no arguments DefaultContentTypes are used.
func NewClassifier(allowed ...ContentType) *Classifier {
	if len(allowed) == 0 {
		allowed = DefaultContentTypes
	}
	return &Classifier{allowed: slices.Clone(allowed)}
}

// Classify returns the content type of k and whether it is accepted.
func (c *Classifier) Classify(k Key) (ContentType, bool) {
	ct := ContentType(k.Prefix)
	return ct, slices.Contains(c.allowed, ct)
}

// Allowed returns the accepted content types.
func (c *Classifier) Allowed() []ContentType {
	return slices.Clone(c.allowed)
}

// Target is a candidate destination key.
type Target struct {
	Prefix   string
	Basename string
	Suffix   string

	rewritten bool
}

// NewTarget returns the initial candidate for k, stored with the given codec
// extension (without dot).
func NewTarget(k Key, ext string) Target {
	suffix := ""
	if ext != "" {
		suffix = "." + ext
	}
	return Target{
		Prefix:   k.Prefix,
		Basename: k.Basename,
		Suffix:   suffix,
	}
}

// Key formats the target as "{prefix}/{basename}{suffix}".
func (t Target) Key() string {
	return t.Prefix + "/" + t.Basename + t.Suffix
}

// WithDisambiguator returns t with "-<n>" appended to the basename.
// Only the first call rewrites; later calls return t unchanged.
func (t Target) WithDisambiguator(n int64) Target {
	if t.rewritten {
		return t
	}
	t.Basename = fmt.Sprintf("%s-%d", t.Basename, n)
	t.rewritten = true
	return t
}

// Rewritten reports whether a disambiguator has been applied.
func (t Target) Rewritten() bool {
	return t.rewritten
}
