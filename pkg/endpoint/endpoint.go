// Package endpoint models a per-request database endpoint descriptor and
// derives the credential-free cache key (dbKey) used by the schema registry
// and memory store.
package endpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/askdb-io/askdb-engine/pkg/apperrors"
	"github.com/askdb-io/askdb-engine/pkg/logging"
)

// Kind identifies a database family.
type Kind string

const (
	KindDocument Kind = "document"
	KindPostgres Kind = "postgres"
	KindMySQL    Kind = "mysql"
)

// Endpoint is an immutable per-request descriptor. URL retains the raw
// connection string (credentials included) for the lifetime of the request;
// it must never be persisted or logged as-is.
type Endpoint struct {
	URL  string
	Kind Kind
}

var schemeKinds = map[string]Kind{
	"mongodb":     KindDocument,
	"mongodb+srv": KindDocument,
	"postgres":    KindPostgres,
	"postgresql":  KindPostgres,
	"mysql":       KindMySQL,
}

// KindFromString maps a caller-supplied dbType to a Kind. The empty string
// means "infer from the URL scheme".
func KindFromString(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", true
	case "document", "mongodb", "mongo":
		return KindDocument, true
	case "postgres", "postgresql":
		return KindPostgres, true
	case "mysql":
		return KindMySQL, true
	}
	return "", false
}

// Parse builds an Endpoint from a raw URL and an optional explicit kind.
// When kind is empty it is inferred from the URL scheme; an unrecognized
// scheme yields UnsupportedEndpoint.
func Parse(rawURL string, kind Kind) (Endpoint, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Endpoint{}, fmt.Errorf("%w: dbUrl is required", apperrors.ErrBadInput)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: malformed dbUrl", apperrors.ErrBadInput)
	}

	if kind == "" {
		inferred, ok := schemeKinds[strings.ToLower(u.Scheme)]
		if !ok {
			return Endpoint{}, fmt.Errorf("%w: scheme %q", apperrors.ErrUnsupportedEndpoint, u.Scheme)
		}
		kind = inferred
	}

	return Endpoint{URL: rawURL, Kind: kind}, nil
}

// Normalized returns the URL with userinfo and the query string stripped.
// Two URLs differing only in credentials or query parameters normalize to
// the same string.
func (e Endpoint) Normalized() string {
	u, err := url.Parse(e.URL)
	if err != nil {
		// Parse already succeeded during construction.
		return logging.SanitizeURL(e.URL)
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// Key returns the stable dbKey: sha256 of the normalized URL combined with
// the kind. Credential-free by construction.
func (e Endpoint) Key() string {
	sum := sha256.Sum256([]byte(e.Normalized()))
	return hex.EncodeToString(sum[:]) + ":" + string(e.Kind)
}

// Redacted returns a log-safe rendering of the endpoint.
func (e Endpoint) Redacted() string {
	return logging.SanitizeURL(e.URL)
}

// Relational reports whether the endpoint belongs to a SQL family.
func (e Endpoint) Relational() bool {
	return e.Kind == KindPostgres || e.Kind == KindMySQL
}
