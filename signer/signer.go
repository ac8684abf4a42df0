// Package signer builds the HMAC signatures used by the exchange clients.
//
// BitMEX style:  hex(HMAC_SHA256(secret, VERB + path[?query] + nonce + body))
// 796 style:     base64(hex(HMAC_SHA1(secret, sorted urlencoded params)))
package signer

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xyths/cryptoexchange/exchange"
)

// Sign returns the lowercase hex HMAC-SHA256 over the canonical message.
// nonce is either an increasing nonce or an expiry timestamp, never both.
func Sign(secret string, verb exchange.Verb, path string, query exchange.Params, nonce int64, body []byte) (string, error) {
	if secret == "" {
		return "", exchange.ConfigurationError("api secret is required")
	}
	return hexHMAC(sha256.New, []byte(secret), Message(verb, path, query, nonce, body)), nil
}

// SignLegacy signs params the way 796 does: ascending keys, form encoded,
// HMAC-SHA1 hex digest, then base64 of that hex string.
func SignLegacy(secret string, params exchange.Params) (string, error) {
	if secret == "" {
		return "", exchange.ConfigurationError("secret key is required")
	}
	digest := hexHMAC(sha1.New, []byte(secret), []byte(params.Sorted().Encode()))
	return base64.StdEncoding.EncodeToString([]byte(digest)), nil
}

// Message is the canonical byte string: VERB + path[?query] + nonce + body.
func Message(verb exchange.Verb, path string, query exchange.Params, nonce int64, body []byte) []byte {
	var b bytes.Buffer
	b.WriteString(strings.ToUpper(string(verb)))
	b.WriteString(CanonicalPath(path, query))
	b.WriteString(strconv.FormatInt(nonce, 10))
	b.Write(body)
	return b.Bytes()
}

// CanonicalPath strips scheme and host and appends the encoded query once.
func CanonicalPath(path string, query exchange.Params) string {
	p, rawQuery := path, ""
	if u, err := url.Parse(path); err == nil {
		p = u.EscapedPath()
		rawQuery = u.RawQuery
	}
	if q := query.Encode(); q != "" {
		if rawQuery != "" {
			rawQuery += "&" + q
		} else {
			rawQuery = q
		}
	}
	if rawQuery != "" {
		return p + "?" + rawQuery
	}
	return p
}

// EncodeBody renders a request body into the exact bytes that get signed and
// sent. Raw JSON is compacted; anything else is marshalled without HTML
// escaping. A nil body encodes to nil.
func EncodeBody(body interface{}) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return compact(v)
	case []byte:
		return compact(v)
	case string:
		return compact([]byte(v))
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, errors.Wrap(err, "encode body")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func compact(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, errors.Wrap(err, "body is not valid json")
	}
	return buf.Bytes(), nil
}

func hexHMAC(h func() hash.Hash, key, message []byte) string {
	mac := hmac.New(h, key)
	mac.Write(message)
	return fmt.Sprintf("%x", mac.Sum(nil))
}
