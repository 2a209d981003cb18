package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	ErrorCodeInvalidRequest    = "INVALID_REQUEST"
	ErrorCodeListingNotFound   = "LISTING_NOT_FOUND"
	ErrorCodeDuplicateListing  = "DUPLICATE_LISTING"
	ErrorCodeNotOwner          = "NOT_OWNER"
	ErrorCodeForbidden         = "FORBIDDEN"
	ErrorCodeAlreadySettled    = "ALREADY_SETTLED"
	ErrorCodePaymentUnverified = "PAYMENT_UNVERIFIED"
	ErrorCodeLedgerUnavailable = "LEDGER_UNAVAILABLE"
	ErrorCodeRateLimited       = "RATE_LIMITED"
	ErrorCodeInternalError     = "INTERNAL_ERROR"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func AssertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	if resp.Code != getHTTPStatusForErrorCode(expectedCode) {
		t.Fatalf("expected status %d, got %d (body: %s)", getHTTPStatusForErrorCode(expectedCode), resp.Code, resp.Body.String())
	}

	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q", expectedCode, errResp.Code)
	}
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d (body: %s)", expectedStatus, resp.Code, resp.Body.String())
	}
}

func getHTTPStatusForErrorCode(code string) int {
	switch code {
	case ErrorCodeInvalidRequest, ErrorCodeDuplicateListing:
		return http.StatusBadRequest
	case ErrorCodeListingNotFound:
		return http.StatusNotFound
	case ErrorCodeNotOwner, ErrorCodeForbidden:
		return http.StatusForbidden
	case ErrorCodeAlreadySettled:
		return http.StatusConflict
	case ErrorCodePaymentUnverified:
		return http.StatusPaymentRequired
	case ErrorCodeLedgerUnavailable:
		return http.StatusServiceUnavailable
	case ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrorCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
