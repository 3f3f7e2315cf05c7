// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package store

import (
	"encoding/hex"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// encMode uses Core Deterministic Encoding so identical entities always
// produce identical payload bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Timestamps keep nanosecond precision; UpdatedAt must stay monotonic
	// across a round trip.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes an entity payload.
func Marshal(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, memerr.Errorf(memerr.CodeStoreEncodingFailure, "encoding payload: %w", err)
	}
	return data, nil
}

// Unmarshal decodes an entity payload. Undecodable payloads indicate
// corruption.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return memerr.Errorf(memerr.CodeStoreHierarchyCorrupt, "decoding payload: %w", err)
	}
	return nil
}

// Digest returns the hex BLAKE3 digest of a verbatim message pair.
func Digest(userMsg, systemMsg string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(userMsg))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(systemMsg))
	return hex.EncodeToString(h.Sum(nil))
}

// archivedPair is the sealed form of an exchange's verbatim content.
type archivedPair struct {
	UserMessage   string `cbor:"1,keyasint"`
	SystemMessage string `cbor:"2,keyasint"`
	Digest        string `cbor:"3,keyasint"`
}

// SealArchive encodes and compresses a verbatim pair for an ArchiveStore.
func SealArchive(userMsg, systemMsg string) ([]byte, error) {
	raw, err := encMode.Marshal(archivedPair{
		UserMessage:   userMsg,
		SystemMessage: systemMsg,
		Digest:        Digest(userMsg, systemMsg),
	})
	if err != nil {
		return nil, memerr.Errorf(memerr.CodeStoreEncodingFailure, "encoding archive: %w", err)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

// OpenArchive reverses SealArchive and verifies the stored digest against
// want. Any mismatch or decode failure is a corruption error.
func OpenArchive(blob []byte, want string) (userMsg, systemMsg string, err error) {
	raw, err := zstdDecoder.DecodeAll(blob, nil)
	if err != nil {
		return "", "", memerr.Errorf(memerr.CodeStoreArchiveCorrupt, "decompressing archive: %w", err)
	}

	var pair archivedPair
	if err := decMode.Unmarshal(raw, &pair); err != nil {
		return "", "", memerr.Errorf(memerr.CodeStoreArchiveCorrupt, "decoding archive: %w", err)
	}

	got := Digest(pair.UserMessage, pair.SystemMessage)
	if got != pair.Digest || (want != "" && got != want) {
		return "", "", memerr.New(memerr.CodeStoreArchiveCorrupt, "archive digest mismatch",
			memerr.Field("want", want), memerr.Field("got", got))
	}
	return pair.UserMessage, pair.SystemMessage, nil
}
