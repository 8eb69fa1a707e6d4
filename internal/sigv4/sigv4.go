// Package sigv4 computes AWS Signature Version 4 authorization values for
// the S3-compatible object store.
//
// Sign is a pure function of its input: the same request, credentials and
// timestamp always produce the same signature. Signer wraps it for outgoing
// *http.Request values, stamping the date and payload headers and rewriting
// the query string to the exact canonical form that was signed.
package sigv4

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/danieljhkim/gitback/internal/clock"
	"github.com/danieljhkim/gitback/internal/hash"
)

const (
	// Algorithm is the signing algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"

	// EmptyPayloadHash is the payload hash of a request without a body.
	EmptyPayloadHash = hash.EmptySHA256Hex

	// ServiceS3 is the service name in the credential scope.
	ServiceS3 = "s3"

	// Header names set by Signer.
	HeaderDate          = "X-Amz-Date"
	HeaderContentSHA256 = "X-Amz-Content-Sha256"
	HeaderAuthorization = "Authorization"

	timeFormat = "20060102T150405Z"
	dateFormat = "20060102"
	terminator = "aws4_request"
)

// Credentials is a static access key pair.
type Credentials struct {
	AccessKeyID string
	SecretKey   string
}

// Request is everything that enters a signature.
type Request struct {
	Method string
	// Path is the URI path, already in its on-the-wire form.
	Path  string
	Query url.Values
	// Headers to sign. Names are case-insensitive; "host" must be present.
	Headers     map[string]string
	PayloadHash string
	Time        time.Time
	Region      string
	Service     string
}

// Result carries the signature and the intermediate strings, which are
// useful when a provider rejects a request.
type Result struct {
	Authorization    string
	Signature        string
	SignedHeaders    string
	CredentialScope  string
	CanonicalQuery   string
	CanonicalRequest string
	StringToSign     string
	AmzDate          string
}

// Sign computes the SigV4 signature of req.
func Sign(req Request, creds Credentials) (Result, error) {
	if creds.AccessKeyID == "" || creds.SecretKey == "" {
		return Result{}, errors.New("sigv4: access key id and secret are required")
	}
	if req.Region == "" || req.Service == "" {
		return Result{}, errors.New("sigv4: region and service are required")
	}
	if req.PayloadHash == "" {
		return Result{}, errors.New("sigv4: payload hash is required")
	}

	ts := req.Time.UTC()
	amzDate := ts.Format(timeFormat)
	date := ts.Format(dateFormat)
	scope := strings.Join([]string{date, req.Region, req.Service, terminator}, "/")

	canonHeaders, signedHeaders, err := canonicalHeaders(req.Headers)
	if err != nil {
		return Result{}, err
	}
	query := CanonicalQuery(req.Query)
	path := req.Path
	if path == "" {
		path = "/"
	}

	canonicalRequest := strings.Join([]string{
		req.Method,
		path,
		query,
		canonHeaders,
		signedHeaders,
		req.PayloadHash,
	}, "\n")

	stringToSign := strings.Join([]string{
		Algorithm,
		amzDate,
		scope,
		hash.SHA256Hex([]byte(canonicalRequest)),
	}, "\n")

	key := SigningKey(creds.SecretKey, date, req.Region, req.Service)
	signature := hex.EncodeToString(hash.HMACSHA256(key, []byte(stringToSign)))

	return Result{
		Authorization: fmt.Sprintf("%s Credential=%s/%s,SignedHeaders=%s,Signature=%s",
			Algorithm, creds.AccessKeyID, scope, signedHeaders, signature),
		Signature:        signature,
		SignedHeaders:    signedHeaders,
		CredentialScope:  scope,
		CanonicalQuery:   query,
		CanonicalRequest: canonicalRequest,
		StringToSign:     stringToSign,
		AmzDate:          amzDate,
	}, nil
}

// SigningKey derives the per-day signing key.
func SigningKey(secret, date, region, service string) []byte {
	k := hash.HMACSHA256([]byte("AWS4"+secret), []byte(date))
	k = hash.HMACSHA256(k, []byte(region))
	k = hash.HMACSHA256(k, []byte(service))
	return hash.HMACSHA256(k, []byte(terminator))
}

// canonicalHeaders returns the "name:value\n" block (with its trailing
// newline) and the ";"-joined list of signed names.
func canonicalHeaders(headers map[string]string) (string, string, error) {
	lowered := make(map[string]string, len(headers))
	for name, value := range headers {
		lowered[strings.ToLower(strings.TrimSpace(name))] = collapseSpaces(strings.TrimSpace(value))
	}
	if _, ok := lowered["host"]; !ok {
		return "", "", errors.New("sigv4: host header is required")
	}

	names := make([]string, 0, len(lowered))
	for name := range lowered {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(lowered[name])
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";"), nil
}

func collapseSpaces(s string) string {
	if !strings.Contains(s, "  ") {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}

// CanonicalQuery sorts parameters by name then value and joins them with
// RFC 3986 encoding. The result must be sent verbatim.
func CanonicalQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(q))
	for k, vs := range q {
		ek := Escape(k)
		for _, v := range vs {
			pairs = append(pairs, pair{ek, Escape(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}
	return strings.Join(parts, "&")
}

// Escape percent-encodes every byte outside the RFC 3986 unreserved set.
func Escape(s string) string {
	return escape(s, false)
}

// EscapePath is Escape that keeps "/" separators.
func EscapePath(s string) string {
	return escape(s, true)
}

func escape(s string, keepSlash bool) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || (keepSlash && c == '/') {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return 'A' <= c && c <= 'Z' || 'a' <= c && c <= 'z' || '0' <= c && c <= '9' ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

// Signer signs outgoing HTTP requests for one region and service.
type Signer struct {
	Credentials Credentials
	Region      string
	Service     string
	Clock       clock.Clock
}

// SignRequest stamps X-Amz-Date and X-Amz-Content-Sha256, signs host, those
// two headers and any extra names in signed, then sets Authorization and
// replaces the query string with its canonical form.
func (s *Signer) SignRequest(r *http.Request, payloadHash string, signed ...string) (Result, error) {
	c := s.Clock
	if c == nil {
		c = clock.RealClock{}
	}
	now := c.Now()

	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	r.Header.Set(HeaderDate, now.UTC().Format(timeFormat))
	r.Header.Set(HeaderContentSHA256, payloadHash)

	headers := map[string]string{
		"host":                 host,
		"x-amz-date":           r.Header.Get(HeaderDate),
		"x-amz-content-sha256": payloadHash,
	}
	for _, name := range signed {
		headers[strings.ToLower(name)] = r.Header.Get(name)
	}

	res, err := Sign(Request{
		Method:      r.Method,
		Path:        r.URL.EscapedPath(),
		Query:       r.URL.Query(),
		Headers:     headers,
		PayloadHash: payloadHash,
		Time:        now,
		Region:      s.Region,
		Service:     s.Service,
	}, s.Credentials)
	if err != nil {
		return Result{}, err
	}

	r.URL.RawQuery = res.CanonicalQuery
	r.Header.Set(HeaderAuthorization, res.Authorization)
	return res, nil
}
