package tools

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// CallIdentity identifies a tool call independently of argument key order.
// It is comparable and can be used as a map key.
type CallIdentity struct {
	Name      string
	Arguments string
}

func (c CallIdentity) String() string {
	return c.Name + ":" + c.Arguments
}

// IdentityOf computes the identity of a call from its name and the canonical
// serialization of its arguments.
func IdentityOf(name string, arguments map[string]interface{}) (CallIdentity, error) {
	args, err := CanonicalJSON(arguments)
	if err != nil {
		return CallIdentity{}, err
	}
	return CallIdentity{Name: name, Arguments: args}, nil
}

// CanonicalJSON serializes v with object keys sorted at every level.
// A nil map serializes like an empty one.
func CanonicalJSON(v map[string]interface{}) (string, error) {
	if v == nil {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", errors.Wrap(err, "could not serialize arguments")
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
