package render

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_JSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		data := map[string]any{"key1": 1, "key2": "222"}
		JSON(w, data)
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"key1":1,"key2":"222"}`+"\n", string(body))
}

func TestRender_ServiceError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		message := "something terrible happened"
		ServiceError(w, message, http.StatusForbidden)
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{
			"error": "service_error",
			"message": "something terrible happened"
		}`,
		string(body),
	)
}

func TestRender_DecodeError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value := struct {
			Code          string `json:"code"`
			ValidityHours int    `json:"validity_hours"`
		}{}

		err := json.NewDecoder(r.Body).Decode(&value)
		require.Error(t, err, "Please check what JSON was sent. Test expected that it is invalid")
		DecodeError(w, err)
	}))
	defer ts.Close()

	tests := []struct {
		name        string
		requestBody string
		expected    string
	}{
		{
			name:        "json parsing error",
			requestBody: `invalid-json`,
			expected: `{
				"error":"decoding_failed",
				"message": "Failed to parse JSON: invalid character 'i' looking for beginning of value"
			}`,
		},
		{
			name:        "invalid type ok",
			requestBody: `{"code": "V1|P|x", "validity_hours": "48"}`,
			expected: `{
				"error": "decoding_failed",
				"message": "Invalid data type for field 'validity_hours'"
			}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/test", "application/json", strings.NewReader(tc.requestBody))
			require.NoError(t, err)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			defer resp.Body.Close() //nolint:errcheck

			assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
			assert.JSONEq(t, tc.expected, string(body))
		})
	}
}

func TestRender_ValidationErrors(t *testing.T) {
	validate := validator.New()

	type T struct {
		Reason        string `validate:"required"`
		ValidityHours int    `validate:"min=1"`
		MaxHours      int    `validate:"max=168"`
		Token         string `validate:"base64rawurl"`
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		invalidData := T{
			MaxHours: 200,
			Token:    "not base64",
		}

		err := validate.Struct(invalidData)
		require.Error(t, err, "test expects that data not pass validation")
		errs, ok := err.(validator.ValidationErrors)
		require.True(t, ok, "be sure you pass structure to validator")
		ValidationErrors(w, errs)
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	expected, err := json.Marshal(struct {
		Error   string            `json:"error"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	}{
		Error:   "validation_failed",
		Message: "Request validation failed",
		Fields: map[string]string{
			"Reason":        "This field is required",           // Message for 'required' tag
			"ValidityHours": "Value is too small (minimum 1)",   // Message for 'min' validation tag
			"MaxHours":      "Value is too large (maximum 168)", // Message for 'max' validation tag
			"Token":         "Invalid value",                    // Unknown validation tag failed: default validation error message
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, string(expected), string(body))
}

func TestRender_BindAndValidate(t *testing.T) {
	type RevokeRequest struct {
		Token  string `json:"token" validate:"required"`
		Reason string `json:"reason" validate:"required,max=200"`
	}

	tests := []struct {
		name           string
		requestBody    string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "valid request",
			requestBody:    `{"token": "abc", "reason": "lost"}`,
			expectedStatus: http.StatusOK,
			expectedBody:   `{"success": true}`,
		},
		{
			name:           "invalid json",
			requestBody:    `invalid-json`,
			expectedStatus: http.StatusBadRequest,
			expectedBody: `{
				"error": "decoding_failed",
				"message": "Failed to parse JSON: invalid character 'i' looking for beginning of value"
			}`,
		},
		{
			name:           "validation failed",
			requestBody:    `{}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody: `{
				"error": "validation_failed",
				"message": "Request validation failed",
				"fields": {
					"token": "This field is required",
					"reason": "This field is required"
				}
			}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, err := BindAndValidate[RevokeRequest](w, r)
				if err != nil {
					return // Error response already written
				}
				// Success case
				JSON(w, map[string]bool{"success": true})
			}))
			defer ts.Close()

			resp, err := http.Post(ts.URL+"/test", "application/json", strings.NewReader(tc.requestBody))
			require.NoError(t, err)
			require.Equal(t, tc.expectedStatus, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			defer resp.Body.Close() //nolint:errcheck

			assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
			assert.JSONEq(t, tc.expectedBody, string(body))
		})
	}

	t.Run("body too large", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = BindAndValidate[RevokeRequest](w, r)
		}))
		defer ts.Close()

		body := `{"token": "abc", "reason": "` + strings.Repeat("a", maxBodySize) + `"}`
		resp, err := http.Post(ts.URL+"/test", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close() //nolint:errcheck

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRender_BindAndValidateOptional(t *testing.T) {
	type IssueRequest struct {
		ValidityHours int `json:"validity_hours" validate:"min=0,max=168"`
	}

	decode := func(r *http.Request) (*httptest.ResponseRecorder, IssueRequest, error) {
		w := httptest.NewRecorder()
		value, err := BindAndValidateOptional[IssueRequest](w, r)
		return w, value, err
	}

	t.Run("empty body is zero value", func(t *testing.T) {
		_, value, err := decode(httptest.NewRequest(http.MethodPost, "/test", nil))

		require.NoError(t, err)
		require.Zero(t, value.ValidityHours)
	})

	t.Run("empty chunked body is zero value", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/test", io.NopCloser(strings.NewReader("")))
		r.ContentLength = -1
		r.TransferEncoding = []string{"chunked"}

		_, value, err := decode(r)

		require.NoError(t, err)
		require.Zero(t, value.ValidityHours)
	})

	t.Run("body is decoded and validated", func(t *testing.T) {
		_, value, err := decode(httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"validity_hours": 12}`)))
		require.NoError(t, err)
		require.Equal(t, 12, value.ValidityHours)

		w, _, err := decode(httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"validity_hours": 200}`)))
		require.Error(t, err)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("truncated body is decoding error", func(t *testing.T) {
		w, _, err := decode(httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"validity_hours": `)))

		require.Error(t, err)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}
