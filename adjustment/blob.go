// Package adjustment converts between the host's opaque adjustment blobs and
// the sidecar edit-history files the external tools read and write.
//
// A Blob is tagged with an extension identity and a format version. The
// Codec only consumes blobs whose tags match its configured Format, so a host
// replaying data produced by a different tool (or an incompatible version of
// this one) starts from a blank history instead of feeding the editor
// something it cannot read.
package adjustment

import (
	"bytes"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Format identifies the adjustment data this system produces and accepts.
type Format struct {
	Identity string
	Version  string
}

// Blob is versioned, identity-tagged edit history exchanged with the host.
// Data holds the raw sidecar bytes.
type Blob struct {
	Identity string
	Version  string
	Data     []byte
}

// Matches reports whether the blob carries exactly the given format tags.
// Blobs with an empty identity or version never match.
func (b *Blob) Matches(f Format) bool {
	if b == nil || b.Identity == "" || b.Version == "" {
		return false
	}
	return b.Identity == f.Identity && b.Version == f.Version
}

const (
	fieldIdentity protowire.Number = 1
	fieldVersion  protowire.Number = 2
	fieldData     protowire.Number = 3
)

// MarshalBinary encodes the blob in protobuf wire format so hosts can persist
// it as a single opaque value.
func (b *Blob) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, len(b.Identity)+len(b.Version)+len(b.Data)+16)
	out = protowire.AppendTag(out, fieldIdentity, protowire.BytesType)
	out = protowire.AppendString(out, b.Identity)
	out = protowire.AppendTag(out, fieldVersion, protowire.BytesType)
	out = protowire.AppendString(out, b.Version)
	out = protowire.AppendTag(out, fieldData, protowire.BytesType)
	out = protowire.AppendBytes(out, b.Data)
	return out, nil
}

// UnmarshalBinary decodes a blob produced by MarshalBinary. Unknown fields
// are skipped.
func (b *Blob) UnmarshalBinary(data []byte) error {
	var blob Blob

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedBlob, protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformedBlob, num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedBlob, num, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldIdentity:
			blob.Identity = string(v)
		case fieldVersion:
			blob.Version = string(v)
		case fieldData:
			blob.Data = bytes.Clone(v)
		}
	}

	*b = blob
	return nil
}
