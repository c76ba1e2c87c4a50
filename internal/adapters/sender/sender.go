// Package sender turns triggered collections into transport payloads. A
// collection is split into chunks of at most MaxMessagesPerPayload entries
// (signals, raw frames and trouble codes each count as one), every chunk is
// wrapped in an envelope carrying a digest of its body, and bodies are
// compressed when the collection scheme asks for it.
package sender

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/ghalamif/AegisFleet/internal/adapters/codec"
	"github.com/ghalamif/AegisFleet/internal/domain"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

var ErrDigestMismatch = errors.New("sender: payload digest mismatch")

// Format selects how chunk bodies are serialized.
type Format string

const (
	FormatCBOR Format = "cbor"
	FormatJSON Format = "json"
)

type Config struct {
	// MaxMessagesPerPayload bounds the entries per chunk; zero disables chunking.
	MaxMessagesPerPayload int
	Codec                 Codec
	Format                Format
	// SessionID tags every envelope; a random UUID when empty.
	SessionID string
}

// Envelope frames one chunk on the wire.
type Envelope struct {
	Session string `cbor:"1,keyasint"`
	EventID uint32 `cbor:"2,keyasint"`
	Chunk   uint32 `cbor:"3,keyasint"`
	Chunks  uint32 `cbor:"4,keyasint"`
	Format  Format `cbor:"5,keyasint"`
	Codec   Codec  `cbor:"6,keyasint"`
	RawSize uint32 `cbor:"7,keyasint"`
	Digest  []byte `cbor:"8,keyasint"`
	Body    []byte `cbor:"9,keyasint"`
}

type Sender struct {
	transport ports.Transport
	cfg       Config
	obs       ports.Observability
}

func New(t ports.Transport, cfg Config, obs ports.Observability) (*Sender, error) {
	if t == nil {
		return nil, errors.New("sender: transport is required")
	}
	if cfg.Codec == "" {
		cfg.Codec = CodecSnappy
	}
	if _, err := ParseCodec(string(cfg.Codec)); err != nil {
		return nil, err
	}
	switch cfg.Format {
	case "":
		cfg.Format = FormatCBOR
	case FormatCBOR, FormatJSON:
	default:
		return nil, fmt.Errorf("sender: unknown format %q", cfg.Format)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	return &Sender{transport: t, cfg: cfg, obs: obs}, nil
}

// SessionID returns the id stamped on every envelope.
func (s *Sender) SessionID() string { return s.cfg.SessionID }

func (s *Sender) Name() string { return "sender" }

// WriteBatch sends every collection. When some fail it returns a
// *ports.BatchError listing them so delivered collections are not resent.
func (s *Sender) WriteBatch(batch []*domain.TriggeredCollectionSchemeData) error {
	var (
		failed []int
		errs   []error
	)
	for i, d := range batch {
		if err := s.Send(d); err != nil {
			failed = append(failed, i)
			errs = append(errs, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &ports.BatchError{Failed: failed, Err: errors.Join(errs...)}
}

// Send chunks, encodes and transmits one collection. It stops at the first
// chunk the transport rejects.
func (s *Sender) Send(d *domain.TriggeredCollectionSchemeData) error {
	if d == nil {
		return nil
	}
	chunks := split(codec.ToRecord(d), s.cfg.MaxMessagesPerPayload)
	params := ports.TransmitParams{Persist: d.Metadata.Persist, Priority: d.Metadata.Priority}

	for i, rec := range chunks {
		payload, err := s.encode(rec, uint32(i), uint32(len(chunks)), d.Metadata.Compress)
		if err != nil {
			return fmt.Errorf("sender: encode event %d chunk %d: %w", d.EventID, i, err)
		}
		params.Compression = string(s.cfg.Codec)
		if !d.Metadata.Compress {
			params.Compression = string(CodecNone)
		}
		if err := s.transport.Send(payload, params); err != nil {
			s.obs.LogError("transport rejected payload", err,
				ports.Field{Key: "event_id", Value: d.EventID},
				ports.Field{Key: "chunk", Value: i})
			return fmt.Errorf("sender: transmit event %d chunk %d: %w", d.EventID, i, err)
		}
		s.obs.IncCounter("aegis_sender_payloads_total", 1)
		s.obs.IncCounter("aegis_sender_bytes_total", float64(len(payload)))
	}
	return nil
}

func (s *Sender) encode(rec codec.Record, chunk, chunks uint32, compressBody bool) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if s.cfg.Format == FormatJSON {
		raw, err = json.Marshal(rec)
	} else {
		raw, err = codec.Marshal(rec)
	}
	if err != nil {
		return nil, err
	}

	algo := CodecNone
	if compressBody {
		algo = s.cfg.Codec
	}
	body, applied, err := compress(algo, raw)
	if err != nil {
		return nil, err
	}
	digest := blake3.Sum256(raw)
	return codec.Marshal(Envelope{
		Session: s.cfg.SessionID,
		EventID: rec.EventID,
		Chunk:   chunk,
		Chunks:  chunks,
		Format:  s.cfg.Format,
		Codec:   applied,
		RawSize: uint32(len(raw)),
		Digest:  digest[:],
		Body:    body,
	})
}

// Decode opens a payload produced by Send and verifies its digest. The
// returned body is the serialized record in env.Format.
func Decode(payload []byte) (Envelope, []byte, error) {
	var env Envelope
	if err := codec.Unmarshal(payload, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("sender: decode envelope: %w", err)
	}
	raw, err := decompress(env.Codec, env.Body, int(env.RawSize))
	if err != nil {
		return Envelope{}, nil, err
	}
	digest := blake3.Sum256(raw)
	if !bytes.Equal(digest[:], env.Digest) {
		return Envelope{}, nil, ErrDigestMismatch
	}
	return env, raw, nil
}

// DecodeRecord is Decode followed by CBOR decoding of the body.
func DecodeRecord(payload []byte) (Envelope, codec.Record, error) {
	env, raw, err := Decode(payload)
	if err != nil {
		return Envelope{}, codec.Record{}, err
	}
	if env.Format != FormatCBOR {
		return Envelope{}, codec.Record{}, fmt.Errorf("sender: body format %q is not cbor", env.Format)
	}
	var rec codec.Record
	if err := codec.Unmarshal(raw, &rec); err != nil {
		return Envelope{}, codec.Record{}, fmt.Errorf("sender: decode body: %w", err)
	}
	return env, rec, nil
}

// split distributes the entries of r over records of at most limit entries.
// Every chunk repeats the collection metadata. Trouble codes keep their
// snapshot header in each chunk they land in.
func split(r codec.Record, limit int) []codec.Record {
	total := len(r.Signals) + len(r.Frames)
	if r.DTC != nil {
		total += len(r.DTC.Codes)
	}
	if limit <= 0 || total <= limit {
		return []codec.Record{r}
	}

	header := r
	header.Signals, header.Frames, header.DTC = nil, nil, nil

	var (
		out []codec.Record
		cur = header
		n   int
	)
	flush := func() {
		out = append(out, cur)
		cur = header
		n = 0
	}
	for _, s := range r.Signals {
		cur.Signals = append(cur.Signals, s)
		if n++; n >= limit {
			flush()
		}
	}
	for _, f := range r.Frames {
		cur.Frames = append(cur.Frames, f)
		if n++; n >= limit {
			flush()
		}
	}
	if r.DTC != nil {
		for _, code := range r.DTC.Codes {
			if cur.DTC == nil {
				cur.DTC = &codec.DTCRecord{TS: r.DTC.TS, SID: r.DTC.SID}
			}
			cur.DTC.Codes = append(cur.DTC.Codes, code)
			if n++; n >= limit {
				flush()
			}
		}
	}
	if n > 0 {
		flush()
	}
	return out
}
