// Package artifact defines artifact types and the store key scheme.
//
// Every object in the artifact store lives at
// "{owner}/{batch_id}/{artifact-type}/{filename}". Keys are built and parsed
// only through this package so traversal tokens and malformed segments are
// rejected in one place. ParseKey(BuildKey(...)) is the identity.
package artifact

import (
	"fmt"
	"strings"

	"audiobatch/internal/batchid"
)

// Type identifies the role of a stored object within a batch.
type Type string

const (
	TypeRawAudio     Type = "raw-audio"
	TypeMetadata     Type = "metadata"
	TypeCleanedAudio Type = "cleaned-audio"
	TypeTranscript   Type = "transcript"
	TypeEmotion      Type = "emotion"
	TypeAttachment   Type = "attachment"
	TypeNotes        Type = "notes"
)

// Types lists every valid artifact type.
func Types() []Type {
	return []Type{
		TypeRawAudio,
		TypeMetadata,
		TypeCleanedAudio,
		TypeTranscript,
		TypeEmotion,
		TypeAttachment,
		TypeNotes,
	}
}

// Mandatory lists the artifact types a completed batch must carry.
func Mandatory() []Type {
	return []Type{TypeRawAudio, TypeMetadata, TypeCleanedAudio, TypeTranscript}
}

// ParseType validates a raw artifact type string.
func ParseType(value string) (Type, error) {
	typ := Type(value)
	for _, candidate := range Types() {
		if typ == candidate {
			return typ, nil
		}
	}
	return "", fmt.Errorf("unknown artifact type %q", value)
}

func (t Type) String() string {
	return string(t)
}

// Ref is a parsed store key.
type Ref struct {
	OwnerID  string
	BatchID  string
	Type     Type
	Filename string
}

// Key renders the reference back into its store key.
func (r Ref) Key() string {
	return r.OwnerID + "/" + r.BatchID + "/" + string(r.Type) + "/" + r.Filename
}

// BuildKey assembles a store key from its segments, rejecting empty or
// path-unsafe values.
func BuildKey(ownerID, batchID string, typ Type, filename string) (string, error) {
	if err := checkSegment("owner", ownerID); err != nil {
		return "", err
	}
	if err := checkSegment("batch id", batchID); err != nil {
		return "", err
	}
	if !batchid.Valid(batchID) {
		return "", fmt.Errorf("batch id %q is not a valid batch identifier", batchID)
	}
	if _, err := ParseType(string(typ)); err != nil {
		return "", err
	}
	if err := checkSegment("filename", filename); err != nil {
		return "", err
	}
	return Ref{OwnerID: ownerID, BatchID: batchID, Type: typ, Filename: filename}.Key(), nil
}

// ParseKey splits a store key into a validated Ref.
func ParseKey(key string) (Ref, error) {
	segments := strings.Split(key, "/")
	if len(segments) != 4 {
		return Ref{}, fmt.Errorf("store key %q must have 4 segments, got %d", key, len(segments))
	}
	built, err := BuildKey(segments[0], segments[1], Type(segments[2]), segments[3])
	if err != nil {
		return Ref{}, err
	}
	if built != key {
		return Ref{}, fmt.Errorf("store key %q does not round-trip", key)
	}
	return Ref{
		OwnerID:  segments[0],
		BatchID:  segments[1],
		Type:     Type(segments[2]),
		Filename: segments[3],
	}, nil
}

// BatchPrefix returns the listing prefix covering every artifact of a batch.
func BatchPrefix(ownerID, batchID string) (string, error) {
	if err := checkSegment("owner", ownerID); err != nil {
		return "", err
	}
	if err := checkSegment("batch id", batchID); err != nil {
		return "", err
	}
	return ownerID + "/" + batchID + "/", nil
}

func checkSegment(label, value string) error {
	if value == "" {
		return fmt.Errorf("%s must not be empty", label)
	}
	if value == "." || value == ".." {
		return fmt.Errorf("%s must not be a traversal token", label)
	}
	if strings.ContainsAny(value, "/\\") {
		return fmt.Errorf("%s %q must not contain path separators", label, value)
	}
	return nil
}
