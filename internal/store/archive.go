package store

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	"github.com/zulandar/closeout/internal/ticket"
)

// ErrDigestMismatch is returned when an archived transcript no longer matches
// the digest recorded at submission.
var ErrDigestMismatch = errors.New("store: transcript digest mismatch")

var (
	archiveEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	archiveDecoder, _ = zstd.NewReader(nil)
)

// packTranscript serialises turns to JSON, compresses them, and returns the
// archive bytes along with the hex blake3 digest of the uncompressed JSON.
func packTranscript(turns []ticket.Turn) ([]byte, string, error) {
	if turns == nil {
		turns = []ticket.Turn{}
	}
	raw, err := json.Marshal(turns)
	if err != nil {
		return nil, "", fmt.Errorf("store: marshal transcript: %w", err)
	}
	sum := blake3.Sum256(raw)
	return archiveEncoder.EncodeAll(raw, nil), hex.EncodeToString(sum[:]), nil
}

// unpackTranscript reverses packTranscript and verifies the digest.
func unpackTranscript(archive []byte, digest string) ([]ticket.Turn, error) {
	raw, err := archiveDecoder.DecodeAll(archive, nil)
	if err != nil {
		return nil, fmt.Errorf("store: decompress transcript: %w", err)
	}
	sum := blake3.Sum256(raw)
	if hex.EncodeToString(sum[:]) != digest {
		return nil, ErrDigestMismatch
	}
	var turns []ticket.Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("store: unmarshal transcript: %w", err)
	}
	return turns, nil
}
