package httpapi

// UnmarshalCaptureResponse exposes the wire decoder to black-box tests.
var UnmarshalCaptureResponse = unmarshalCaptureResponse
