package document

import (
	"encoding/json"
	"fmt"

	"openanonymiser/internal/vault"
)

// MetadataKey is the metadata field that carries the encrypted substitution
// map. One field, one JSON envelope; metadata-stripping tools that drop it
// make the document permanently anonymous, which is the intended failure
// direction.
const MetadataKey = "OpenAnonymiser.Payload"

// payloadVersion is the current envelope format version.
const payloadVersion = 1

// envelope is the wire form of an embedded payload. The byte fields are
// base64 via encoding/json; Fingerprint identifies the sealing key without
// revealing it.
type envelope struct {
	Version     int    `json:"version"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
	Tag         []byte `json:"tag"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Embed writes the payload into doc's metadata channel. The document's
// visible text is not touched.
func Embed(doc Document, p vault.Payload, fingerprint string) error {
	data, err := json.Marshal(envelope{
		Version:     payloadVersion,
		Nonce:       p.Nonce,
		Ciphertext:  p.Ciphertext,
		Tag:         p.Tag,
		Fingerprint: fingerprint,
	})
	if err != nil {
		return fmt.Errorf("document: marshal payload envelope: %w", err)
	}
	if err := doc.SetMetadata(MetadataKey, string(data)); err != nil {
		return fmt.Errorf("document: embed payload: %w", err)
	}
	return nil
}

// Extract reads the embedded payload back out of doc's metadata channel.
// Returns the payload and the fingerprint of the key that sealed it.
func Extract(doc Document) (vault.Payload, string, error) {
	raw, ok := doc.Metadata(MetadataKey)
	if !ok || raw == "" {
		return vault.Payload{}, "", ErrNoEmbeddedPayload
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return vault.Payload{}, "", fmt.Errorf("document: parse payload envelope: %w", err)
	}
	if env.Version != payloadVersion {
		return vault.Payload{}, "", fmt.Errorf("%w: %d", ErrUnsupportedPayloadVersion, env.Version)
	}

	return vault.Payload{
		Nonce:      env.Nonce,
		Ciphertext: env.Ciphertext,
		Tag:        env.Tag,
	}, env.Fingerprint, nil
}
