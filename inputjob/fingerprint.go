package inputjob

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/mr-tron/base58"

	"github.com/teranos/tablescan/errors"
)

// Fingerprint returns a short, stable identifier for d's encoded content.
// Two descriptors with equal fields (properties included) share a
// fingerprint; the dispatch queue uses it as the job source.
//
// encoding/json writes map keys in sorted order, so the encoding is canonical.
func Fingerprint(d *Descriptor) (string, error) {
	data, err := json.Marshal(d.toWire())
	if err != nil {
		return "", errors.Wrap(err, "failed to encode descriptor for fingerprint")
	}
	sum := sha256.Sum256(data)
	return base58.Encode(sum[:]), nil
}
