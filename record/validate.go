package record

import (
	"encoding/json"
	"sort"

	"github.com/cockroachdb/errors"
)

// ErrInvalid is the sentinel wrapped by every structural validation
// failure, giving bridge callers a stable error kind.
var ErrInvalid = errors.New("record: invalid")

// SignatureVerifier is supplied by the daemon binary to check the
// cryptographic signature embedded in a record's value; the validator
// itself only checks that a signature field is structurally present.
type SignatureVerifier func(tag Tag, doc map[string]json.RawMessage) error

// Validator holds the pluggable hooks consulted before a value is
// accepted into the ContentStore.
type Validator struct {
	verifySignature SignatureVerifier
}

// Option configures a Validator.
type Option func(*Validator)

// WithSignatureVerifier installs the daemon-supplied signature check.
func WithSignatureVerifier(v SignatureVerifier) Option {
	return func(val *Validator) {
		val.verifySignature = v
	}
}

// NewValidator builds a Validator from the given options.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var requiredFields = map[Tag][]string{
	TagUser:          {"public_key", "signature", "monero_address", "created_at"},
	TagListing:       {"id", "seller_id", "quantity", "price", "currency", "condition", "date", "product", "signature"},
	TagProductRating: {"rater_id", "signature"},
	TagSellerRating:  {"rater_id", "signature"},
}

// Validate checks that value is UTF-8 JSON carrying the declared tag's
// required fields and a structurally present signature, then (if a
// SignatureVerifier was installed) delegates cryptographic verification.
// Unknown extra fields are left untouched in doc so callers can re-store
// the value byte-for-byte.
func (v *Validator) Validate(tag Tag, value []byte) error {
	if !json.Valid(value) {
		return errors.Mark(errors.New("record: value is not valid JSON"), ErrInvalid)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(value, &doc); err != nil {
		return errors.Mark(errors.Wrap(err, "record: invalid json object"), ErrInvalid)
	}

	fields, ok := requiredFields[tag]
	if !ok {
		return errors.Mark(errors.Newf("record: unknown tag %q", tag), ErrInvalid)
	}
	var missing []string
	for _, f := range fields {
		if _, present := doc[f]; !present {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.Mark(errors.Newf("record: missing required fields %v for tag %q", missing, tag), ErrInvalid)
	}

	if err := validateRatingShape(tag, doc); err != nil {
		return err
	}

	if v.verifySignature != nil {
		if err := v.verifySignature(tag, doc); err != nil {
			return errors.Mark(errors.Wrap(err, "record: signature verification failed"), ErrInvalid)
		}
	}
	return nil
}

// validateRatingShape enforces the (stars 1-5) or (score 0|1)
// alternative for rating tags.
func validateRatingShape(tag Tag, doc map[string]json.RawMessage) error {
	if tag != TagProductRating && tag != TagSellerRating {
		return nil
	}
	starsRaw, hasStars := doc["stars"]
	scoreRaw, hasScore := doc["score"]
	switch {
	case hasStars && hasScore:
		return errors.Mark(errors.New("record: rating has both stars and score"), ErrInvalid)
	case hasStars:
		var stars int
		if err := json.Unmarshal(starsRaw, &stars); err != nil || stars < 1 || stars > 5 {
			return errors.Mark(errors.New("record: stars must be an integer in [1,5]"), ErrInvalid)
		}
	case hasScore:
		var score int
		if err := json.Unmarshal(scoreRaw, &score); err != nil || (score != 0 && score != 1) {
			return errors.Mark(errors.New("record: score must be 0 or 1"), ErrInvalid)
		}
	default:
		return errors.Mark(errors.New("record: rating missing stars or score"), ErrInvalid)
	}
	return nil
}

// Canonical returns the canonical form of a JSON value used for content
// addressing: object keys sorted, no insignificant whitespace. This keeps
// KeyFromContent stable across re-encodings of logically identical
// values.
func Canonical(value []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(value, &v); err != nil {
		return nil, errors.Wrap(err, "record: cannot canonicalize non-JSON value")
	}
	return canonicalMarshal(v)
}

func canonicalMarshal(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []interface{}:
		buf := []byte{'['}
		for i, e := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			eb, err := canonicalMarshal(e)
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(val)
	}
}
