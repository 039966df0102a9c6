package voldemort

import (
	"encoding/binary"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire field numbers for the hand-rolled protobuf-shaped Request/
// GetResponse messages. protowire gives us tag/varint/length-delimited
// primitives to build and parse frames that satisfy the wire shape without
// a generated package.
const (
	reqFieldType         = protowire.Number(1)
	reqFieldShouldRoute  = protowire.Number(2)
	reqFieldStore        = protowire.Number(3)
	reqFieldGet          = protowire.Number(4)
	getReqFieldKey       = protowire.Number(1)

	respFieldVersioned   = protowire.Number(1)
	respFieldError       = protowire.Number(2)

	versionedFieldValue   = protowire.Number(1)
	versionedFieldVersion = protowire.Number(2)

	clockFieldTimestamp = protowire.Number(2)

	errorFieldCode    = protowire.Number(1)
	errorFieldMessage = protowire.Number(2)
)

// requestTypeGet is the only Request.type value this client ever produces.
const requestTypeGet = 1

// errorCodeKeyNotFound is the server error_code reserved for "key not
// found" responses.
const errorCodeKeyNotFound = 1

// buildGet serialises a GET request for key against store into the
// Request message body (unframed — the uint32 length prefix is added by
// the connection layer when the frame is written to the wire).
func buildGet(store string, key []byte) []byte {
	var getMsg []byte
	getMsg = protowire.AppendTag(getMsg, getReqFieldKey, protowire.BytesType)
	getMsg = protowire.AppendBytes(getMsg, key)

	var body []byte
	body = protowire.AppendTag(body, reqFieldType, protowire.VarintType)
	body = protowire.AppendVarint(body, requestTypeGet)
	body = protowire.AppendTag(body, reqFieldShouldRoute, protowire.VarintType)
	body = protowire.AppendVarint(body, 0)
	body = protowire.AppendTag(body, reqFieldStore, protowire.BytesType)
	body = protowire.AppendString(body, store)
	body = protowire.AppendTag(body, reqFieldGet, protowire.BytesType)
	body = protowire.AppendBytes(body, getMsg)
	return body
}

// frameBody prepends the uint32 big-endian length prefix required on every
// frame written to the wire.
func frameBody(body []byte) []byte {
	framed := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(framed, uint32(len(body)))
	copy(framed[4:], body)
	return framed
}

type wireVersioned struct {
	value     []byte
	timestamp int64
	hasTS     bool
}

type wireError struct {
	code    int32
	message string
	set     bool
}

// parseGet parses a GetResponse message body (already stripped of its
// length prefix by the connection layer) and returns the selected value's
// bytes, or an error:
//   - a set error with a non-empty message fails the request; it maps to
//     KeyNotFound when error_code == errorCodeKeyNotFound, else ServerError;
//   - an empty/missing versioned list fails with KeyNotFound;
//   - otherwise the entry with the greatest version.timestamp wins, ties
//     broken by first-encountered.
func parseGet(body []byte) ([]byte, error) {
	var versioned []wireVersioned
	var respErr wireError

	b := body
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, WrapServerError(protowire.ParseError(n), "parsing GetResponse tag")
		}
		b = b[n:]
		switch num {
		case respFieldVersioned:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, WrapServerError(protowire.ParseError(n), "parsing GetResponse.versioned")
			}
			b = b[n:]
			v, err := parseVersioned(raw)
			if err != nil {
				return nil, err
			}
			versioned = append(versioned, v)
		case respFieldError:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, WrapServerError(protowire.ParseError(n), "parsing GetResponse.error")
			}
			b = b[n:]
			e, err := parseError(raw)
			if err != nil {
				return nil, err
			}
			respErr = e
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, WrapServerError(protowire.ParseError(n), "skipping unknown GetResponse field")
			}
			b = b[n:]
		}
	}

	if respErr.set && respErr.message != "" {
		if respErr.code == errorCodeKeyNotFound {
			return nil, ErrKeyNotFound
		}
		return nil, NewServerError(respErr.message)
	}

	if len(versioned) == 0 {
		return nil, ErrKeyNotFound
	}

	best := versioned[0]
	for _, v := range versioned[1:] {
		if v.hasTS && (!best.hasTS || v.timestamp > best.timestamp) {
			best = v
		}
	}
	return best.value, nil
}

func parseVersioned(b []byte) (wireVersioned, error) {
	var v wireVersioned
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return v, WrapServerError(protowire.ParseError(n), "parsing Versioned tag")
		}
		b = b[n:]
		switch num {
		case versionedFieldValue:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return v, WrapServerError(protowire.ParseError(n), "parsing Versioned.value")
			}
			v.value = append([]byte(nil), raw...)
			b = b[n:]
		case versionedFieldVersion:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return v, WrapServerError(protowire.ParseError(n), "parsing Versioned.version")
			}
			b = b[n:]
			ts, hasTS, err := parseVectorClock(raw)
			if err != nil {
				return v, err
			}
			v.timestamp, v.hasTS = ts, hasTS
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return v, WrapServerError(protowire.ParseError(n), "skipping unknown Versioned field")
			}
			b = b[n:]
		}
	}
	return v, nil
}

func parseVectorClock(b []byte) (timestamp int64, hasTS bool, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, false, WrapServerError(protowire.ParseError(n), "parsing VectorClock tag")
		}
		b = b[n:]
		if num == clockFieldTimestamp && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, false, WrapServerError(protowire.ParseError(n), "parsing VectorClock.timestamp")
			}
			b = b[n:]
			timestamp, hasTS = int64(v), true
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return 0, false, WrapServerError(protowire.ParseError(n), "skipping unknown VectorClock field")
		}
		b = b[n:]
	}
	return timestamp, hasTS, nil
}

func parseError(b []byte) (wireError, error) {
	e := wireError{set: true}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, WrapServerError(protowire.ParseError(n), "parsing Error tag")
		}
		b = b[n:]
		switch num {
		case errorFieldCode:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, WrapServerError(protowire.ParseError(n), "parsing Error.error_code")
			}
			b = b[n:]
			e.code = int32(v)
		case errorFieldMessage:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, WrapServerError(protowire.ParseError(n), "parsing Error.error_message")
			}
			b = b[n:]
			e.message = string(raw)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, WrapServerError(protowire.ParseError(n), "skipping unknown Error field")
			}
			b = b[n:]
		}
	}
	return e, nil
}
