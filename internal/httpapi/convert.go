package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/BrandonDHaskell/qrpass/internal/qrpass/service"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/types"
)

func serverTime() string { return time.Now().UTC().Format(time.RFC3339) }

func issueResponse(iss service.Issued, baseURL string) types.IssueResponse {
	return types.IssueResponse{
		QRCode:    strings.TrimRight(baseURL, "/") + "/artifacts/" + iss.Artifact.Name,
		ExpiresAt: iss.Credential.ExpiresAt().UTC().Format(time.RFC3339),
	}
}

func captureResponse(res service.CaptureResult) types.CaptureResponse {
	return types.CaptureResponse{OK: true, Granted: res.Granted(), ServerTime: serverTime()}
}

func pendingResponse() types.CaptureResponse {
	return types.CaptureResponse{OK: true, Pending: true, ServerTime: serverTime()}
}

func deniedResponse() types.CaptureResponse {
	return types.CaptureResponse{ServerTime: serverTime()}
}

// writeCapture answers in protobuf when asked to, JSON otherwise.
func writeCapture(w http.ResponseWriter, r *http.Request, status int, resp types.CaptureResponse) {
	if wantsProtobuf(r) {
		writeProto(w, status, marshalCaptureResponse(resp))
		return
	}
	writeJSON(w, status, resp)
}

type errorBody struct {
	OK      bool   `json:"ok"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
