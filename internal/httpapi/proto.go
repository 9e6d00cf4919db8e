package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/BrandonDHaskell/qrpass/internal/qrpass/types"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 4096

const protobufContentType = "application/x-protobuf"

// CaptureResponse field numbers on the wire:
//
//	message CaptureResponse {
//	  bool   ok          = 1;
//	  bool   granted     = 2;
//	  bool   pending     = 3;
//	  string server_time = 4;
//	}
const (
	fieldOK         protowire.Number = 1
	fieldGranted    protowire.Number = 2
	fieldPending    protowire.Number = 3
	fieldServerTime protowire.Number = 4
)

// wantsProtobuf returns true if the capture device asked for a protobuf
// reply.  Camera firmware sends "Accept: application/x-protobuf".
func wantsProtobuf(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		switch mt {
		case protobufContentType, "application/protobuf":
			return true
		}
	}
	return false
}

// marshalCaptureResponse encodes resp, omitting false and empty fields as
// proto3 does.
func marshalCaptureResponse(resp types.CaptureResponse) []byte {
	var b []byte
	appendBool := func(n protowire.Number, v bool) {
		if v {
			b = protowire.AppendTag(b, n, protowire.VarintType)
			b = protowire.AppendVarint(b, protowire.EncodeBool(v))
		}
	}
	appendBool(fieldOK, resp.OK)
	appendBool(fieldGranted, resp.Granted)
	appendBool(fieldPending, resp.Pending)
	if resp.ServerTime != "" {
		b = protowire.AppendTag(b, fieldServerTime, protowire.BytesType)
		b = protowire.AppendString(b, resp.ServerTime)
	}
	return b
}

// unmarshalCaptureResponse decodes b, skipping unknown fields.
func unmarshalCaptureResponse(b []byte) (types.CaptureResponse, error) {
	var resp types.CaptureResponse
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return resp, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == fieldOK || num == fieldGranted || num == fieldPending):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return resp, protowire.ParseError(n)
			}
			b = b[n:]
			set := protowire.DecodeBool(v)
			switch num {
			case fieldOK:
				resp.OK = set
			case fieldGranted:
				resp.Granted = set
			case fieldPending:
				resp.Pending = set
			}
		case typ == protowire.BytesType && num == fieldServerTime:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return resp, protowire.ParseError(n)
			}
			b = b[n:]
			resp.ServerTime = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return resp, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return resp, nil
}

// writeProto writes an already-encoded message with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", protobufContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
